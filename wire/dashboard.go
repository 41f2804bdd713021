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

package wire

import (
	"encoding/json"
	"net/http"

	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/rs/cors"

	"inference-gateway/backend"
	"inference-gateway/guard/pool"
	"inference-gateway/shared/metrics"
)

// Dashboard is the optional read-only HTTP surface (spec.md's
// "dashboard-enable flag"), grounded on this codebase's
// agent/circuitbreaker.Handler.RegisterRoutes convention: a thin
// *mux.Router wrapper exposing backend health, pool stats, and
// Prometheus metrics for an operator, with CORS enabled the same
// permissive way the teacher's orchestrator entrypoint wires it for
// its own local dashboard.
type Dashboard struct {
	registry *backend.Registry
	pool     *pool.Pool
	metrics  *metrics.Registry
}

// NewDashboard builds a Dashboard over registry, p, and m. m may be
// nil, in which case /metrics responds 404.
func NewDashboard(registry *backend.Registry, p *pool.Pool, m *metrics.Registry) *Dashboard {
	return &Dashboard{registry: registry, pool: p, metrics: m}
}

// RegisterRoutes registers the dashboard's read-only endpoints on r.
func (d *Dashboard) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", d.healthHandler).Methods("GET")
	r.HandleFunc("/pool", d.poolHandler).Methods("GET")
	if d.metrics != nil {
		r.Handle("/metrics", promhttp.HandlerFor(d.metrics.Gatherer(), promhttp.HandlerOpts{})).Methods("GET")
	}
}

func (d *Dashboard) healthHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, map[string]any{"backends": d.registry.AllHealth(), "backend_count": d.registry.Count()})
}

func (d *Dashboard) poolHandler(w http.ResponseWriter, req *http.Request) {
	writeJSON(w, d.pool.Metrics())
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

// Handler builds the full CORS-wrapped http.Handler for ListenAndServe.
func (d *Dashboard) Handler() http.Handler {
	r := mux.NewRouter()
	d.RegisterRoutes(r)
	c := cors.New(cors.Options{
		AllowedOrigins:   []string{"*"},
		AllowedMethods:   []string{"GET"},
		AllowedHeaders:   []string{"*"},
		AllowCredentials: true,
	})
	return c.Handler(r)
}
