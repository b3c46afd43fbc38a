package handlers

import (
	"net/http"
)

type object = map[string]any

func jsonContent(schema any) object {
	return object{"application/json": object{"schema": schema}}
}

func ref(name string) object {
	return object{"$ref": "#/components/schemas/" + name}
}

func envelopeOf(data any) object {
	return object{
		"type": "object",
		"properties": object{
			"success":   object{"type": "boolean"},
			"data":      data,
			"timestamp": object{"type": "string", "format": "date-time"},
		},
	}
}

func errorResponses(codes ...string) object {
	descriptions := map[string]string{
		"400": "Invalid request body",
		"404": "Crop not present in the dataset",
		"429": "Rate limit exceeded",
		"500": "Internal error",
		"503": "Rotation aggregates not built yet",
	}
	out := object{}
	for _, code := range codes {
		out[code] = object{
			"description": descriptions[code],
			"content":     jsonContent(ref("Error")),
		}
	}
	return out
}

func withResponses(ok object, errs object) object {
	out := object{"200": ok}
	for k, v := range errs {
		out[k] = v
	}
	return out
}

func number(description string) object {
	return object{"type": "number", "description": description}
}

func band() object {
	return object{
		"type": "object",
		"properties": object{
			"min": object{"type": "number"},
			"max": object{"type": "number"},
		},
	}
}

func recommendOperation(summary string) object {
	return object{
		"summary":     summary,
		"description": "Rank the crops observed on the given soil type as successors to the current crop",
		"requestBody": object{
			"required": true,
			"content":  jsonContent(ref("RecommendationRequest")),
		},
		"responses": withResponses(object{
			"description": "Ranked recommendations, possibly empty",
			"content":     jsonContent(envelopeOf(ref("RecommendationResponse"))),
		}, errorResponses("400", "429", "503")),
	}
}

func openAPIDocument() object {
	return object{
		"openapi": "3.0.0",
		"info": object{
			"title":       "Crop Rotation API",
			"description": "Recommends the next crop for a field from soil and nutrient observations",
			"version":     "1.0.0",
		},
		"servers": []object{
			{"url": "http://localhost:8080", "description": "Local development server"},
		},
		"paths": object{
			"/api/ml/crop-rotation": object{
				"post": recommendOperation("Recommend next crops"),
			},
			"/api/rotation/recommendations": object{
				"post": recommendOperation("Recommend next crops (alias)"),
			},
			"/api/rotation/soils": object{
				"get": object{
					"summary": "List soil types and their candidate crops",
					"responses": withResponses(object{
						"description": "Soil types in alphabetical order",
						"content": jsonContent(envelopeOf(object{
							"type": "object",
							"properties": object{
								"soils": object{"type": "array", "items": ref("SoilCandidates")},
							},
						})),
					}, errorResponses("429", "503")),
				},
			},
			"/api/rotation/crops/{crop}": object{
				"get": object{
					"summary": "Get the nutrient bias and environment band of a crop",
					"parameters": []object{{
						"name":     "crop",
						"in":       "path",
						"required": true,
						"schema":   object{"type": "string"},
					}},
					"responses": withResponses(object{
						"description": "Crop profile",
						"content":     jsonContent(envelopeOf(ref("CropProfile"))),
					}, errorResponses("404", "429", "503")),
				},
			},
			"/api/rotation/refresh": object{
				"post": object{
					"summary":     "Rebuild aggregates from the configured source",
					"description": "On failure the previously published aggregates keep serving",
					"responses": withResponses(object{
						"description": "Refresh status",
						"content":     jsonContent(envelopeOf(ref("DatasetStatus"))),
					}, errorResponses("429", "500")),
				},
			},
			"/health": object{
				"get": object{
					"summary": "Health check",
					"responses": object{
						"200": object{"description": "Aggregates are loaded", "content": jsonContent(ref("Health"))},
						"503": object{"description": "Aggregates are not loaded", "content": jsonContent(ref("Health"))},
					},
				},
			},
			"/metrics": object{
				"get": object{
					"summary": "Prometheus metrics",
					"responses": object{
						"200": object{
							"description": "Prometheus metrics in text format",
							"content":     object{"text/plain": object{"schema": object{"type": "string"}}},
						},
					},
				},
			},
		},
		"components": object{
			"schemas": object{
				"RecommendationRequest": object{
					"type": "object",
					"required": []string{
						"current_crop", "soil_type", "temperature", "humidity",
						"moisture", "nitrogen", "phosphorous", "potassium",
					},
					"properties": object{
						"current_crop": object{"type": "string", "example": "Paddy"},
						"soil_type":    object{"type": "string", "example": "Clayey"},
						"temperature":  number("Degrees Celsius"),
						"humidity":     object{"type": "number", "minimum": 0, "maximum": 100},
						"moisture":     object{"type": "number", "minimum": 0, "maximum": 100},
						"nitrogen":     object{"type": "number", "minimum": 0},
						"phosphorous":  object{"type": "number", "minimum": 0},
						"potassium":    object{"type": "number", "minimum": 0},
						"top_k":        object{"type": "integer", "minimum": 0, "default": 5},
					},
				},
				"Recommendation": object{
					"type": "object",
					"properties": object{
						"crop":              object{"type": "string"},
						"score":             number("Raw rotation score"),
						"suitability_score": object{"type": "integer", "minimum": 50, "maximum": 100},
						"reason":            object{"type": "string"},
					},
				},
				"RecommendationResponse": object{
					"type": "object",
					"properties": object{
						"recommendations": object{"type": "array", "items": ref("Recommendation")},
						"current_crop":    object{"type": "string"},
						"soil_type":       object{"type": "string"},
					},
				},
				"SoilCandidates": object{
					"type": "object",
					"properties": object{
						"soil_type": object{"type": "string"},
						"crops":     object{"type": "array", "items": object{"type": "string"}},
					},
				},
				"CropProfile": object{
					"type": "object",
					"properties": object{
						"crop":            object{"type": "string"},
						"nutrient_bias":   object{"type": "string", "enum": []string{"N_high", "P_high", "K_high"}},
						"nitrogen_fixing": object{"type": "boolean"},
						"soil_types":      object{"type": "array", "items": object{"type": "string"}},
						"environment_band": object{
							"type": "object",
							"properties": object{
								"temperature": band(),
								"moisture":    band(),
								"humidity":    band(),
							},
						},
					},
				},
				"DatasetStatus": object{
					"type": "object",
					"properties": object{
						"ready":        object{"type": "boolean"},
						"source":       object{"type": "string"},
						"last_refresh": object{"type": "string", "format": "date-time"},
						"last_error":   object{"type": "string"},
						"refreshes":    object{"type": "integer"},
						"summary": object{
							"type": "object",
							"properties": object{
								"observations": object{"type": "integer"},
								"soil_types":   object{"type": "integer"},
								"crop_types":   object{"type": "integer"},
							},
						},
					},
				},
				"Health": object{
					"type": "object",
					"properties": object{
						"status":        object{"type": "string", "enum": []string{"OK", "DEGRADED", "UNAVAILABLE"}},
						"message":       object{"type": "string"},
						"timestamp":     object{"type": "string", "format": "date-time"},
						"models_loaded": object{"type": "object", "additionalProperties": object{"type": "boolean"}},
						"dataset":       ref("DatasetStatus"),
						"database":      object{"type": "string"},
					},
				},
				"Error": object{
					"type": "object",
					"properties": object{
						"success":   object{"type": "boolean"},
						"error":     object{"type": "string"},
						"message":   object{"type": "string"},
						"code":      object{"type": "integer"},
						"details":   object{},
						"timestamp": object{"type": "string", "format": "date-time"},
					},
				},
			},
		},
	}
}

// OpenAPISpec returns the OpenAPI 3.0 specification for the Crop Rotation API
func OpenAPISpec(w http.ResponseWriter, r *http.Request) {
	sendJSON(w, openAPIDocument(), http.StatusOK)
}
