package gateway

import (
	"encoding/json"
	"net/http"
	"strings"

	"github.com/openclaw/clawgate/pkg/apierr"
	"github.com/openclaw/clawgate/pkg/manifest"
	"github.com/openclaw/clawgate/pkg/plugin"
)

// openapiHandler serves the API description generated from the plugin
// registry and the static contract routes. The document is built once and
// cached; the registry is immutable after startup.
func (s *Server) openapiHandler(w http.ResponseWriter, _ *http.Request) {
	s.openapiOnce.Do(func() {
		doc, err := json.Marshal(s.buildOpenAPI())
		if err == nil {
			s.openapiDoc = doc
		}
	})
	if s.openapiDoc == nil {
		apierr.Write(w, apierr.Internal("openapi document unavailable"))
		return
	}
	writeRaw(w, http.StatusOK, s.openapiDoc)
}

func (s *Server) buildOpenAPI() map[string]any {
	paths := map[string]any{}
	pfx := s.cfg.APIPrefix

	errRef := map[string]any{
		"description": "Error",
		"content": map[string]any{
			"application/json": map[string]any{
				"schema": schemaRef("ErrorResponse"),
			},
		},
	}
	jsonResponse := func(description string, schema map[string]any) map[string]any {
		return map[string]any{
			"description": description,
			"content": map[string]any{
				"application/json": map[string]any{"schema": schema},
			},
		}
	}
	pathParam := func(name string) map[string]any {
		return map[string]any{
			"name":     name,
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		}
	}

	paths[pfx+"/plugins"] = map[string]any{
		"get": map[string]any{
			"summary": "List registered plugins",
			"tags":    []string{"discovery"},
			"responses": map[string]any{
				"200": jsonResponse("Plugin summaries", map[string]any{
					"type":  "array",
					"items": schemaRef("PluginSummary"),
				}),
				"default": errRef,
			},
		},
	}
	paths[pfx+"/plugins/{plugin_id}"] = map[string]any{
		"get": map[string]any{
			"summary":    "Get a plugin manifest",
			"tags":       []string{"discovery"},
			"parameters": []any{pathParam("plugin_id")},
			"responses": map[string]any{
				"200":     jsonResponse("Plugin manifest", map[string]any{"type": "object"}),
				"default": errRef,
			},
		},
	}
	paths[pfx+"/plugins/{plugin_id}/capabilities"] = map[string]any{
		"get": map[string]any{
			"summary":    "List a plugin's capabilities",
			"tags":       []string{"discovery"},
			"parameters": []any{pathParam("plugin_id")},
			"responses": map[string]any{
				"200": jsonResponse("Capability rows", map[string]any{
					"type":  "array",
					"items": schemaRef("CapabilityRow"),
				}),
				"default": errRef,
			},
		},
	}

	paths[pfx+"/approvals/{ticket_id}"] = map[string]any{
		"get": map[string]any{
			"summary":    "Get an approval ticket",
			"tags":       []string{"approvals"},
			"parameters": []any{pathParam("ticket_id")},
			"responses": map[string]any{
				"200":     jsonResponse("Approval ticket", schemaRef("ApprovalTicket")),
				"default": errRef,
			},
		},
	}
	for _, verb := range []string{"approve", "deny"} {
		paths[pfx+"/approvals/{ticket_id}:"+verb] = map[string]any{
			"post": map[string]any{
				"summary":    "Finalize an approval ticket as " + verb + "d",
				"tags":       []string{"approvals"},
				"parameters": []any{pathParam("ticket_id")},
				"responses": map[string]any{
					"200":     jsonResponse("Approval ticket", schemaRef("ApprovalTicket")),
					"default": errRef,
				},
			},
		}
	}

	for _, summary := range s.registry.List() {
		m, err := s.registry.Manifest(summary.ID)
		if err != nil {
			continue
		}
		for _, res := range m.Resources {
			base := pfx + "/" + m.ID + "/" + res.Name
			paths[base] = map[string]any{
				"get": map[string]any{
					"summary": "List " + m.ID + " " + res.Name,
					"tags":    []string{m.ID},
					"responses": map[string]any{
						"200":     jsonResponse("Collection page", schemaRef("CollectionResponse")),
						"default": errRef,
					},
				},
			}
			paths[base+"/{resource_id}"] = map[string]any{
				"get": map[string]any{
					"summary":    "Get one " + m.ID + " " + res.Name + " item",
					"tags":       []string{m.ID},
					"parameters": []any{pathParam("resource_id")},
					"responses": map[string]any{
						"200":     jsonResponse("Item", map[string]any{"type": "object"}),
						"default": errRef,
					},
				},
			}
			paths[base+"/{resource_id}/{view}"] = map[string]any{
				"get": map[string]any{
					"summary":    "Read a view of one " + m.ID + " " + res.Name + " item",
					"tags":       []string{m.ID},
					"parameters": []any{pathParam("resource_id"), pathParam("view")},
					"responses": map[string]any{
						"200":     jsonResponse("View payload", map[string]any{"type": "object"}),
						"default": errRef,
					},
				},
			}
		}
		for i := range m.Actions {
			action := &m.Actions[i]
			phases := []string{plugin.PhaseExecute}
			if action.SupportsPropose {
				phases = []string{plugin.PhasePropose, plugin.PhaseExecute}
			}
			for _, phase := range phases {
				paths[actionPath(pfx, m.ID, action, phase)] = map[string]any{
					"post": actionOperation(m.ID, action, phase, jsonResponse, errRef),
				}
			}
		}
	}

	return map[string]any{
		"openapi": "3.0.3",
		"info": map[string]any{
			"title":   "Clawgate API",
			"version": "0.2.0",
		},
		"paths":      paths,
		"components": map[string]any{"schemas": componentSchemas()},
	}
}

// actionPath expands an action's route pattern into a concrete documented
// path. Patterns are plugin-relative, e.g. "/:send/{phase}" or
// "/messages/{resource_id}:reply/{phase}".
func actionPath(prefix, pluginID string, action *manifest.Action, phase string) string {
	pattern := action.RoutePattern
	if pattern == "" {
		if action.Resource != "" {
			pattern = "/" + action.Resource + "/{resource_id}:" + action.Name + "/{phase}"
		} else {
			pattern = "/:" + action.Name + "/{phase}"
		}
	}
	joined := prefix + "/" + pluginID
	if strings.HasPrefix(pattern, "/:") {
		joined += pattern[1:]
	} else {
		joined += pattern
	}
	return strings.ReplaceAll(joined, "{phase}", phase)
}

func actionOperation(pluginID string, action *manifest.Action, phase string, jsonResponse func(string, map[string]any) map[string]any, errRef map[string]any) map[string]any {
	op := map[string]any{
		"summary": strings.TrimSpace(action.Description),
		"tags":    []string{pluginID},
		"requestBody": map[string]any{
			"content": map[string]any{
				"application/json": map[string]any{"schema": schemaRef("ActionRequest")},
			},
		},
		"responses": map[string]any{
			"200":     jsonResponse("Action completed", schemaRef("ActionSuccessResponse")),
			"default": errRef,
		},
	}
	if op["summary"] == "" {
		op["summary"] = "Run " + pluginID + " " + action.Name + " (" + phase + ")"
	}
	if action.Resource != "" {
		op["parameters"] = []any{map[string]any{
			"name":     "resource_id",
			"in":       "path",
			"required": true,
			"schema":   map[string]any{"type": "string"},
		}}
	}
	if phase == plugin.PhaseExecute {
		op["responses"].(map[string]any)["202"] = jsonResponse("Needs approval", schemaRef("ActionNeedsApprovalResponse"))
	}
	return op
}

func schemaRef(name string) map[string]any {
	return map[string]any{"$ref": "#/components/schemas/" + name}
}

func componentSchemas() map[string]any {
	return map[string]any{
		"ActionRequest": map[string]any{
			"type": "object",
			"properties": map[string]any{
				"idempotency_key": map[string]any{"type": "string"},
				"reason":          map[string]any{"type": "string"},
				"args":            map[string]any{"type": "object", "additionalProperties": true},
			},
		},
		"ActionSuccessResponse": map[string]any{
			"type":     "object",
			"required": []string{"result"},
			"properties": map[string]any{
				"result":  map[string]any{"type": "object", "additionalProperties": true},
				"summary": map[string]any{"type": "string"},
			},
		},
		"ActionNeedsApprovalResponse": map[string]any{
			"type":     "object",
			"required": []string{"approval_ticket_id", "summary", "proposed_effect"},
			"properties": map[string]any{
				"approval_ticket_id": map[string]any{"type": "string"},
				"summary":            map[string]any{"type": "string"},
				"proposed_effect":    map[string]any{"type": "object", "additionalProperties": true},
			},
		},
		"ApprovalTicket": map[string]any{
			"type":     "object",
			"required": []string{"id", "status"},
			"properties": map[string]any{
				"id":              map[string]any{"type": "string"},
				"status":          map[string]any{"type": "string", "enum": []string{"pending", "approved", "denied"}},
				"summary":         map[string]any{"type": "string"},
				"proposed_effect": map[string]any{"type": "object", "additionalProperties": true},
				"fingerprint":     map[string]any{"type": "string"},
				"capability_id":   map[string]any{"type": "string"},
			},
		},
		"ErrorResponse": map[string]any{
			"type":     "object",
			"required": []string{"error"},
			"properties": map[string]any{
				"error": map[string]any{
					"type":     "object",
					"required": []string{"code", "message"},
					"properties": map[string]any{
						"code":    map[string]any{"type": "string"},
						"message": map[string]any{"type": "string"},
					},
				},
			},
		},
		"CollectionResponse": map[string]any{
			"type":     "object",
			"required": []string{"items"},
			"properties": map[string]any{
				"items":       map[string]any{"type": "array", "items": map[string]any{"type": "object"}},
				"next_cursor": map[string]any{"type": "string", "nullable": true},
			},
		},
		"PluginSummary": map[string]any{
			"type":     "object",
			"required": []string{"id", "name", "version", "runtime_mode"},
			"properties": map[string]any{
				"id":           map[string]any{"type": "string"},
				"name":         map[string]any{"type": "string"},
				"version":      map[string]any{"type": "string"},
				"runtime_mode": map[string]any{"type": "string"},
			},
		},
		"CapabilityRow": map[string]any{
			"type":     "object",
			"required": []string{"action", "capability_id", "risk_tier", "route_pattern"},
			"properties": map[string]any{
				"action":        map[string]any{"type": "string"},
				"capability_id": map[string]any{"type": "string"},
				"resource_type": map[string]any{"type": "string"},
				"risk_tier":     map[string]any{"type": "string"},
				"route_pattern": map[string]any{"type": "string"},
			},
		},
	}
}
