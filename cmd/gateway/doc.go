// Copyright 2025 AxonFlow
// SPDX-License-Identifier: BUSL-1.1
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Command gateway runs the inference gateway process: a local-first,
multi-backend LLM fallback chain driven by a role-based subagent
executor, fronted by a line-delimited JSON tool dispatcher over stdio.

# Usage

	gateway

# Environment Variables

Optional, one per remote backend (absence simply leaves that backend
unregistered rather than failing startup):

	REASONING_API_KEY         - remote reasoning backend credential
	REASONING_ENDPOINT        - Anthropic-compatible base URL override
	REASONING_MODEL           - primary reasoning model
	REASONING_SECONDARY_MODEL - fallback reasoning model
	CODE_API_KEY              - remote code backend credential
	CODE_ENDPOINT             - Gemini-compatible base URL override
	CODE_MODEL                - code model
	FAST_API_KEY              - remote fast-model backend credential
	FAST_ENDPOINT             - Azure OpenAI resource endpoint
	FAST_MODEL                - Azure OpenAI deployment name
	PREMIUM_AWS_REGION        - remote premium (Bedrock) region
	PREMIUM_MODEL             - Bedrock model id

The local backend requires no credential: it autodiscovers a running
OpenAI-compatible server on the host, unless LOCAL_ENDPOINT_OVERRIDE
names a base URL to use directly.

Dashboard (optional, read-only):

	DASHBOARD_ENABLED - "true" to start the HTTP dashboard
	DASHBOARD_PORT     - dashboard port (default 8088)

Pool:

	POOL_SIZE - concurrent-pool capacity (default 250)

# Example

	export CODE_API_KEY="..."
	export REASONING_API_KEY="..."
	./gateway
*/
package main
