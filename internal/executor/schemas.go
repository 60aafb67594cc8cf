package executor

import "google.golang.org/genai"

// Response schemas handed to the generation service. Each executor asks for a
// single top-level array whose items mirror the artifact payload shape, so
// the model output decodes straight into pkg/models payload structs.

func str(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc}
}

func strEnum(desc string, values ...string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeString, Description: desc, Enum: values}
}

func strArray(desc string) *genai.Schema {
	return &genai.Schema{Type: genai.TypeArray, Description: desc, Items: &genai.Schema{Type: genai.TypeString}}
}

func listOf(name string, item *genai.Schema) *genai.Schema {
	return &genai.Schema{
		Type:       genai.TypeObject,
		Properties: map[string]*genai.Schema{name: {Type: genai.TypeArray, Items: item}},
		Required:   []string{name},
	}
}

var documentSummarySchema = listOf("documents", &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"document_id":   str("identifier of the source document, copied verbatim from the input"),
		"document_name": str("display name of the document"),
		"doc_type":      strEnum("document classification", "specification", "standard", "manual", "report", "other"),
		"summary":       str("concise summary of the document's safety-relevant content"),
		"key_topics":    strArray("main safety topics covered"),
	},
	Required: []string{"document_id", "document_name", "doc_type", "summary"},
})

var hazardSchema = listOf("hazards", &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"uid":             str("stable hazard identifier, e.g. HAZ-001"),
		"title":           str("short hazard title"),
		"description":     str("what can go wrong and under which conditions"),
		"severity":        strEnum("worst credible outcome", "negligible", "marginal", "critical", "catastrophic"),
		"likelihood":      strEnum("probability of occurrence", "improbable", "remote", "occasional", "probable", "frequent"),
		"mitigation":      str("suggested mitigation approach, highest feasible design precedence"),
		"source_document": str("document the hazard was derived from"),
	},
	Required: []string{"uid", "title", "description", "severity", "likelihood"},
})

var requirementSchema = listOf("requirements", &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"uid":                str("stable requirement identifier, e.g. REQ-001"),
		"title":              str("short requirement title"),
		"description":        str("normative requirement statement using shall, with quantified limits"),
		"category":           strEnum("requirement category", "functional", "performance", "interface", "safety", "process"),
		"priority":           strEnum("implementation priority", "high", "medium", "low"),
		"linked_hazard_uids": strArray("uids of hazards this requirement mitigates"),
	},
	Required: []string{"uid", "title", "description", "category", "priority"},
})

var certifiableElementSchema = listOf("elements", &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"uid":         str("stable element identifier, e.g. CE-001"),
		"name":        str("element name"),
		"type":        strEnum("element kind", "system", "subsystem", "component", "software", "hardware"),
		"description": str("scope and certification relevance of the element"),
		"parent_uid":  str("uid of the parent element, empty for roots"),
	},
	Required: []string{"uid", "name", "type"},
})

func traceLinkSchema(sourceLabel, sourceUIDField, sourceTitleField string) *genai.Schema {
	return listOf("links", &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			sourceUIDField:      str("uid of the " + sourceLabel),
			sourceTitleField:    str("title of the " + sourceLabel),
			"requirement_uid":   str("uid of the requirement"),
			"requirement_title": str("title of the requirement"),
			"link_rationale":    str("why the two entities are related"),
			"confidence":        &genai.Schema{Type: genai.TypeNumber, Description: "link confidence between 0 and 1"},
			"verification_method": strEnum("how the link is verified",
				"test", "analysis", "inspection", "demonstration"),
		},
		Required: []string{sourceUIDField, sourceTitleField, "requirement_uid", "requirement_title",
			"link_rationale", "confidence", "verification_method"},
	})
}

var conformanceSchema = listOf("items", &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"phase_id":    str("certification phase or framework clause the item maps to"),
		"category":    str("conformance category, e.g. design, verification, documentation"),
		"title":       str("short checklist title"),
		"description": str("what must be demonstrated for conformance"),
		"verification_method": strEnum("how compliance is shown",
			"test", "analysis", "inspection", "demonstration"),
		"priority": strEnum("completion priority", "high", "medium", "low"),
		"ce_uid":   str("uid of the certifiable element the item applies to"),
	},
	Required: []string{"phase_id", "category", "title", "description", "verification_method", "priority"},
})

var testCaseSchema = listOf("test_cases", &genai.Schema{
	Type: genai.TypeObject,
	Properties: map[string]*genai.Schema{
		"title":           str("short test case title"),
		"description":     str("objective of the test"),
		"test_type":       strEnum("test level", "unit", "integration", "system", "acceptance", "safety"),
		"procedure":       str("numbered execution procedure"),
		"expected_result": str("observable pass criterion"),
		"priority":        strEnum("execution priority", "high", "medium", "low"),
		"verification_method": strEnum("verification method the test realizes",
			"test", "analysis", "inspection", "demonstration"),
		"linked_requirement_uid": str("uid of the requirement the test verifies"),
	},
	Required: []string{"title", "description", "test_type", "procedure", "expected_result",
		"priority", "verification_method", "linked_requirement_uid"},
})
