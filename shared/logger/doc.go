// Copyright 2025 AxonFlow
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

/*
Package logger provides structured JSON logging for the gateway's
components (backend adapters, the router, the resource guards, the
orchestrator).

Each log entry includes a timestamp, level, component name, instance
id, a request id for correlating one tool call across components, a
message, and an optional field map:

	log := logger.New("router")
	log.Info("req-42", "selected backend", map[string]any{"backend": "reasoning"})

Sub-loggers scope a component name to a child, e.g. the router's child
logging under "router.reasoning":

	adapterLog := log.With("reasoning")

Each entry is marshalled as single-line JSON and written through the
standard library's log package: to standard error by default, after
log's date/time prefix unless its flags are changed. No
structured-logging dependency is involved.
*/
package logger
