package api

import "net/http"

// wellKnownManifest is the static JSON manifest for /.well-known/costscope.json.
const wellKnownManifest = `{
  "name": "costscope",
  "description": "Security cost reporting across cloud subscriptions",
  "version": "0.1.0",
  "api_base": "/api",
  "auth": {
    "type": "bearer",
    "header": "Authorization"
  },
  "endpoints": {
    "subscriptions": "/api/subscriptions",
    "resource_groups": "/api/resourceGroups",
    "costs": "/api/costs",
    "total_cost": "/api/totalCost",
    "overview": "/api/overview",
    "historical_cost": "/api/historicalCost",
    "ddos_protection_cost": "/api/ddosProtectionCost",
    "key_vault_cost": "/api/keyVaultCost",
    "firewall_cost": "/api/firewallCost",
    "waf_cost": "/api/wafCost",
    "sentinel_cost": "/api/sentinelCost",
    "defender_cost": "/api/defenderCost",
    "defender_top_resources": "/api/defenderTopResources",
    "top_resources": "/api/topResources",
    "defender_plan": "/api/defenderPlan",
    "plans": "/api/plans"
  },
  "date_range": {
    "parameters": ["startDate", "endDate"],
    "formats": ["2006-01-02", "RFC3339"]
  },
  "health": "/health",
  "metrics": "/metrics"
}`

// WellKnownHandler returns the static costscope well-known manifest.
func WellKnownHandler(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(http.StatusOK)
	_, _ = w.Write([]byte(wellKnownManifest))
}
