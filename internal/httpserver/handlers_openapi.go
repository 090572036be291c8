package httpserver

import (
	"encoding/json"
	"io"
	"net/http"
)

// openAPISpec handles GET /openapi.json, returning the OpenAPI 3.0
// description of the gateway surface.
func (h *handlers) openAPISpec(w http.ResponseWriter, r *http.Request) {
	spec := h.buildOpenAPISpec(r)

	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.Header().Set("Access-Control-Allow-Origin", "*")

	if err := json.NewEncoder(w).Encode(spec); err != nil {
		http.Error(w, `{"error":"encoding failed"}`, http.StatusInternalServerError)
	}
}

// docsPage serves a static viewer that renders the OpenAPI document in
// a browser.
func (h *handlers) docsPage(w http.ResponseWriter, r *http.Request) {
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "public, max-age=3600")
	w.WriteHeader(http.StatusOK)
	io.WriteString(w, docsHTML)
}

const docsHTML = `<!DOCTYPE html>
<html>
<head>
  <title>Nexus Gateway API</title>
  <meta charset="utf-8"/>
  <meta name="viewport" content="width=device-width, initial-scale=1">
  <style>body { margin: 0; padding: 0; }</style>
</head>
<body>
  <redoc spec-url="/openapi.json"></redoc>
  <script src="https://cdn.redoc.ly/redoc/latest/bundles/redoc.standalone.js"></script>
</body>
</html>
`

// xmlSubmission is the shared request/response shell for the ISO 20022
// ingestion operations.
func xmlSubmission(summary, description string, params []map[string]interface{}) map[string]interface{} {
	post := map[string]interface{}{
		"summary":     summary,
		"description": description,
		"tags":        []string{"ISO 20022"},
		"requestBody": map[string]interface{}{
			"required": true,
			"content": map[string]interface{}{
				"application/xml": map[string]interface{}{
					"schema": map[string]string{"type": "string", "format": "xml"},
				},
			},
		},
		"responses": map[string]interface{}{
			"200": map[string]interface{}{
				"description": "Acknowledgement",
				"content": map[string]interface{}{
					"application/json": map[string]interface{}{
						"schema": map[string]string{"$ref": "#/components/schemas/Ack"},
					},
				},
			},
			"400": errorResponse("Malformed XML or schema validation failure"),
		},
	}
	if len(params) > 0 {
		post["parameters"] = params
	}
	return map[string]interface{}{"post": post}
}

func errorResponse(description string) map[string]interface{} {
	return map[string]interface{}{
		"description": description,
		"content": map[string]interface{}{
			"application/json": map[string]interface{}{
				"schema": map[string]string{"$ref": "#/components/schemas/Error"},
			},
		},
	}
}

func queryParam(name, description string, required bool) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "query",
		"required":    required,
		"description": description,
		"schema":      map[string]string{"type": "string"},
	}
}

func pathParam(name, description string) map[string]interface{} {
	return map[string]interface{}{
		"name":        name,
		"in":          "path",
		"required":    true,
		"description": description,
		"schema":      map[string]string{"type": "string"},
	}
}

func idempotencyKeyParam() map[string]interface{} {
	return map[string]interface{}{
		"name":        "Idempotency-Key",
		"in":          "header",
		"required":    false,
		"description": "Client-chosen key; resubmitting it with the same body replays the original response (marked X-Idempotency-Replay), with a different body yields 409",
		"schema":      map[string]string{"type": "string"},
	}
}

// buildOpenAPISpec constructs the OpenAPI 3.0 specification.
func (h *handlers) buildOpenAPISpec(r *http.Request) map[string]interface{} {
	baseURL := getServiceEndpoint(r)
	prefix := h.cfg.Server.RoutePrefix
	v1 := prefix + "/v1"

	return map[string]interface{}{
		"openapi": "3.0.0",
		"info": map[string]interface{}{
			"title":   "Nexus Gateway API",
			"version": "1.0.0",
			"description": "Cross-border instant payments gateway. ISO 20022 messages are ingested " +
				"over HTTP, validated against the scheme's XSD profiles, and recorded in an " +
				"append-only audit log; FX quotes price corridors with a fixed validity window; " +
				"status reports are delivered to registered participants as signed callbacks.\n\n" +
				"## API Versioning\n\n" +
				"URLs carry the major version (`/v1/...`). Clients may also negotiate via headers:\n" +
				"`X-API-Version: v1` or `Accept: application/vnd.nexus.v1+json`. All responses " +
				"include an `X-API-Version` header naming the version served.",
		},
		"servers": []map[string]interface{}{
			{
				"url":         baseURL,
				"description": "Nexus Gateway",
			},
		},
		"paths": map[string]interface{}{
			v1 + "/iso20022/pacs008": xmlSubmission(
				"Submit payment instruction (pacs.008)",
				"Validates, binds the referenced quote, persists the payment, and schedules the pacs.002 status report callback. Business rejections still acknowledge with HTTP 200; the reason travels in the callback.",
				[]map[string]interface{}{
					queryParam("pacs002Endpoint", "Callback URL override for this submission's status report", false),
				},
			),
			v1 + "/iso20022/pacs002": xmlSubmission(
				"Submit payment status report (pacs.002)",
				"Advances the referenced payment's state and relays the report to the instructing agent's registered callback.",
				nil,
			),
			v1 + "/iso20022/acmt023": xmlSubmission(
				"Submit proxy resolution request (acmt.023)",
				"Opens an identification verification conversation keyed by correlation id.",
				[]map[string]interface{}{
					queryParam("acmt024Endpoint", "URL the matching acmt.024 report is relayed to", false),
				},
			),
			v1 + "/iso20022/acmt024": xmlSubmission(
				"Submit proxy resolution report (acmt.024)",
				"Closes the conversation opened by the matching acmt.023 and relays the report when an endpoint was registered.",
				nil,
			),
			v1 + "/iso20022/pain001": xmlSubmission("Submit customer credit transfer initiation (pain.001)", "Accepted and recorded against the referenced UETR.", nil),
			v1 + "/iso20022/camt103": xmlSubmission("Submit create reservation (camt.103)", "Accepted and recorded against the referenced UETR.", nil),
			v1 + "/iso20022/camt054": xmlSubmission("Submit debit/credit notification (camt.054)", "Accepted and recorded against the referenced UETR.", nil),
			v1 + "/iso20022/pacs004": xmlSubmission("Submit payment return (pacs.004)", "Accepted and recorded; flips the returned payment to RETURNED when the matching pacs.008 is accepted.", nil),
			v1 + "/iso20022/pacs028": xmlSubmission("Submit payment status request (pacs.028)", "Accepted and recorded against the referenced UETR.", nil),
			v1 + "/iso20022/camt056": xmlSubmission("Submit cancellation request (camt.056)", "Accepted and recorded against the referenced UETR.", nil),
			v1 + "/iso20022/camt029": xmlSubmission("Submit resolution of investigation (camt.029)", "Accepted and recorded; a confirmed cancellation recalls the accepted payment.", nil),
			v1 + "/iso20022/validate": xmlSubmission(
				"Validate a document without ingesting",
				"Runs schema validation only. Nothing is stored; the response always reports the structured result with line-annotated findings.",
				[]map[string]interface{}{
					queryParam("messageType", "Family hint, e.g. pacs.008 or pacs.008.001.13; autodetected from the document namespace when omitted", false),
				},
			),

			v1 + "/quotes": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Create FX quote",
					"tags":       []string{"Quotes"},
					"parameters": []map[string]interface{}{idempotencyKeyParam()},
					"requestBody": map[string]interface{}{
						"required": true,
						"content": map[string]interface{}{
							"application/json": map[string]interface{}{
								"schema": map[string]interface{}{
									"type":     "object",
									"required": []string{"sourceCurrency", "destinationCurrency", "amount", "amountType"},
									"properties": map[string]interface{}{
										"sourceCurrency":      map[string]string{"type": "string", "example": "SGD"},
										"destinationCurrency": map[string]string{"type": "string", "example": "THB"},
										"amount":              map[string]string{"type": "string", "example": "1000.00"},
										"amountType":          map[string]string{"type": "string", "example": "SOURCE_FIXED"},
										"fxpPreference":       map[string]string{"type": "string"},
										"pspBic":              map[string]string{"type": "string"},
									},
								},
							},
						},
					},
					"responses": map[string]interface{}{
						"201": map[string]interface{}{"description": "Quote created; valid for 600 seconds"},
						"400": errorResponse("Invalid request or no provider quotes the corridor"),
						"409": errorResponse("Idempotency-Key already used with a different request body"),
					},
				},
			},
			v1 + "/quotes/{quoteId}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Get quote",
					"tags":       []string{"Quotes"},
					"parameters": []map[string]interface{}{pathParam("quoteId", "Quote UUID")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Stored quote"},
						"404": errorResponse("No quote under the id"),
						"410": errorResponse("Quote validity window has passed"),
					},
				},
			},
			v1 + "/quotes/{quoteId}/intermediary-agents": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "List settlement accounts for a quote",
					"tags":       []string{"Quotes"},
					"parameters": []map[string]interface{}{pathParam("quoteId", "Quote UUID")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Settlement access provider accounts on both legs"},
						"404": errorResponse("No quote under the id"),
					},
				},
			},
			v1 + "/pre-transaction-disclosure": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Pre-transaction cost disclosure",
					"tags":    []string{"Quotes"},
					"parameters": []map[string]interface{}{
						queryParam("quote_id", "Quote UUID", true),
						queryParam("source_psp_fee_type", "standard, premium, or waived; defaults to standard", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Sender-facing cost breakdown"},
						"404": errorResponse("No quote under the id"),
					},
				},
			},

			v1 + "/actors": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":     "Register participant",
					"description": "The response is the only one that includes the callback signing secret.",
					"tags":        []string{"Registry"},
					"parameters":  []map[string]interface{}{idempotencyKeyParam()},
					"responses": map[string]interface{}{
						"201": map[string]interface{}{"description": "Actor created"},
						"400": errorResponse("Invalid registration or callback URL"),
						"409": errorResponse("Idempotency-Key already used with a different request body"),
					},
				},
				"get": map[string]interface{}{
					"summary":    "List participants",
					"tags":       []string{"Registry"},
					"parameters": []map[string]interface{}{queryParam("kind", "FXP, IPSO, PSP, SAP, or PDO", false)},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Registered actors, secrets omitted"},
					},
				},
			},
			v1 + "/actors/{actorId}": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Get participant",
					"tags":       []string{"Registry"},
					"parameters": []map[string]interface{}{pathParam("actorId", "Actor UUID")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Actor, secret omitted"},
						"404": errorResponse("No actor under the id"),
					},
				},
			},
			v1 + "/actors/{actorId}/rotate-secret": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Rotate callback secret",
					"tags":       []string{"Registry"},
					"parameters": []map[string]interface{}{pathParam("actorId", "Actor UUID")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "New secret, returned once"},
						"404": errorResponse("No actor under the id"),
					},
				},
			},
			v1 + "/actors/{actorId}/test-callback": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Send signed test callback",
					"tags":       []string{"Registry"},
					"parameters": []map[string]interface{}{pathParam("actorId", "Actor UUID")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Synchronous delivery outcome"},
						"400": errorResponse("Actor has no callback URL"),
						"404": errorResponse("No actor under the id"),
					},
				},
			},

			v1 + "/payments": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "List payments",
					"tags":    []string{"Payments"},
					"parameters": []map[string]interface{}{
						queryParam("status", "Filter by payment status", false),
						queryParam("limit", "Max records, 1 to 1000", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Payment records"},
					},
				},
			},
			v1 + "/payments/{uetr}/events": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Payment event log",
					"tags":       []string{"Payments"},
					"parameters": []map[string]interface{}{pathParam("uetr", "Payment UETR")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Append-only audit events"},
						"404": errorResponse("No events under the UETR"),
					},
				},
			},
			v1 + "/payments/{uetr}/messages": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Raw stored messages",
					"tags":    []string{"Payments"},
					"parameters": []map[string]interface{}{
						pathParam("uetr", "Payment UETR"),
						queryParam("correlation_id", "Switch the lookup to a proxy resolution conversation", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "ISO 20022 envelopes in arrival order"},
						"404": errorResponse("No messages under the key"),
					},
				},
			},
			v1 + "/payments/{uetr}/status": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":    "Latest payment status",
					"tags":       []string{"Payments"},
					"parameters": []map[string]interface{}{pathParam("uetr", "Payment UETR")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Status snapshot"},
						"404": errorResponse("No payment under the UETR"),
					},
				},
			},

			v1 + "/admin/callbacks/failed": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "List parked callback deliveries",
					"description": "Requires the X-API-Key header when an admin key is configured.",
					"tags":        []string{"Admin"},
					"parameters": []map[string]interface{}{
						queryParam("status", "pending, processing, failed, or success; defaults to failed", false),
						queryParam("limit", "Max records, 1 to 1000", false),
					},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Queue entries"},
						"401": errorResponse("Missing or invalid API key"),
					},
				},
			},
			v1 + "/admin/callbacks/{callbackId}/requeue": map[string]interface{}{
				"post": map[string]interface{}{
					"summary":    "Requeue a parked delivery",
					"tags":       []string{"Admin"},
					"parameters": []map[string]interface{}{pathParam("callbackId", "Queue entry id")},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Entry reset to pending"},
						"401": errorResponse("Missing or invalid API key"),
						"404": errorResponse("No queue entry under the id"),
					},
				},
			},

			"/health": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Health check",
					"description": "Liveness and readiness; the store state comes from the background monitor's cached probe",
					"tags":        []string{"System"},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Gateway healthy"},
						"503": map[string]interface{}{"description": "Store unreachable or schemas missing"},
					},
				},
			},
			"/metrics": map[string]interface{}{
				"get": map[string]interface{}{
					"summary": "Prometheus metrics",
					"tags":    []string{"System"},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Metrics in Prometheus exposition format"},
					},
				},
			},
			"/.well-known/nexus-gateway": map[string]interface{}{
				"get": map[string]interface{}{
					"summary":     "Discovery document",
					"description": "Versions, quotable corridors, per-currency limits, and documentation links",
					"tags":        []string{"System"},
					"responses": map[string]interface{}{
						"200": map[string]interface{}{"description": "Capability advertisement"},
					},
				},
			},
		},
		"components": map[string]interface{}{
			"schemas": map[string]interface{}{
				"Ack": map[string]interface{}{
					"type": "object",
					"properties": map[string]interface{}{
						"uetr":             map[string]string{"type": "string", "format": "uuid"},
						"correlationId":    map[string]string{"type": "string"},
						"status":           map[string]string{"type": "string", "example": "ACCEPTED"},
						"callbackEndpoint": map[string]string{"type": "string"},
						"processedAt":      map[string]string{"type": "string", "format": "date-time"},
					},
				},
				"Error": map[string]interface{}{
					"type":     "object",
					"required": []string{"error", "retryable"},
					"properties": map[string]interface{}{
						"error":            map[string]string{"type": "string", "example": "XSD_VALIDATION_FAILED"},
						"message":          map[string]string{"type": "string"},
						"retryable":        map[string]string{"type": "boolean"},
						"validationErrors": map[string]interface{}{"type": "array", "items": map[string]string{"type": "string"}},
						"reference":        map[string]string{"type": "string"},
					},
				},
			},
			"securitySchemes": map[string]interface{}{
				"AdminApiKey": map[string]interface{}{
					"type": "apiKey",
					"in":   "header",
					"name": "X-API-Key",
				},
			},
		},
	}
}
