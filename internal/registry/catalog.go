package registry

import (
	"fmt"
	"strings"

	"google.golang.org/genai"

	"github.com/mtzanidakis/nimbus/internal/llm"
)

// Template is a PromptRule that substitutes the directive into a fixed
// prompt.
type Template struct {
	Prompt         string // {{directive}} is replaced with the operator text
	GoogleSearch   bool
	ThinkingBudget int32
	MIMEType       string
	Schema         *genai.Schema
}

func (t Template) BuildRequest(directive string) llm.Request {
	return llm.Request{
		Prompt:           strings.ReplaceAll(t.Prompt, "{{directive}}", directive),
		GoogleSearch:     t.GoogleSearch,
		ThinkingBudget:   t.ThinkingBudget,
		ResponseMIMEType: t.MIMEType,
		ResponseSchema:   t.Schema,
	}
}

// Catalog returns the built-in agent profiles.
func Catalog() []AgentProfile {
	return []AgentProfile{
		{
			ID:          "inspector",
			Name:        "Roof Inspector",
			Description: "Classifies hail and wind damage severity from a field description.",
			Kind:        KindText,
			Model:       "gemini-2.5-flash",
			Rule: Template{
				Prompt: `Act as a HAAG Certified Roof Inspector. Based on this description, classify the damage severity: "{{directive}}"`,
			},
		},
		{
			ID:          "claims",
			Name:        "Claims Agent",
			Description: "Drafts supplement requests using code insights.",
			Kind:        KindText,
			Model:       "gemini-2.5-pro",
			Rule: Template{
				Prompt:         `Act as a Public Adjuster. Write a supplement request for the following situation: "{{directive}}"`,
				ThinkingBudget: 2048,
			},
		},
		{
			ID:          "marketing",
			Name:        "Market Authority",
			Description: "Writes geo-local storm landing page copy grounded in live search.",
			Kind:        KindText,
			Model:       "gemini-2.5-flash",
			Rule: Template{
				Prompt:       `Act as a Local SEO Expert. Write a "Zero-Click" optimized blog post intro for a roofing company in response to: "{{directive}}"`,
				GoogleSearch: true,
			},
		},
		{
			ID:          "scheduler",
			Name:        "Dispatcher",
			Description: "Coordinates crews and homeowners with text or email drafts.",
			Kind:        KindNotification,
			Model:       "gemini-2.5-flash",
			Rule: Template{
				Prompt: `Draft a professional SMS or Email to a homeowner or crew regarding: "{{directive}}"`,
			},
		},
		{
			ID:          "fraud",
			Name:        "Fraud Sentinel",
			Description: "Forensic scan of carrier narratives for denial tactics and code omissions.",
			Kind:        KindText,
			Model:       "gemini-2.5-pro",
			Structured:  true,
			Rule: Template{
				Prompt:         fraudPrompt,
				ThinkingBudget: 2048,
				MIMEType:       "application/json",
				Schema:         FraudSchema(),
			},
			Validate: ValidateFraudAnalysis,
		},
		{
			ID:          "compliance",
			Name:        "Sentinel Audit",
			Description: "Audits a draft estimate against local building code and adds missing line items.",
			Kind:        KindText,
			Model:       "gemini-2.5-pro",
			Structured:  true,
			Rule: Template{
				Prompt:   compliancePrompt,
				MIMEType: "application/json",
				Schema:   ComplianceSchema(),
			},
			Validate: ValidateComplianceAudit,
		},
	}
}

const fraudPrompt = `Act as the "Accountant Sniper", a forensic roofing engineer.
Analyze this insurance estimate narrative for carrier fraud and intentional omission of building code.

Focus areas:
1. Flag specific phrases used to deny "Overhead and Profit".
2. Identify "partial replacement" suggestions that violate shingle manufacturer warranty.
3. Search for language that attempts to bypass the 2021 International Building Code (IBC).

INPUT: "{{directive}}"`

const compliancePrompt = `Act as "Sentinel-Audit", a Senior Code Compliance Officer.

Analyze the following draft estimate or claim situation against the local building code
of its jurisdiction:
"{{directive}}"

INSTRUCTIONS:
1. Identify the jurisdiction and code year that apply.
2. If 'Ice & Water Shield' is required but missing, add it to line_items.
3. If 'Drip Edge' is required but missing, add it.
4. Give every added item a note citing the specific code statute.
5. Return ONLY the JSON of the enriched estimate.`

var (
	riskLevels   = []string{"LOW", "MEDIUM", "HIGH", "CRITICAL"}
	flagCategory = []string{"DENIAL_TACTIC", "CARRIER_FRAUD", "COMPLIANCE_ERROR"}
)

// FraudAnalysis is the structured output of the fraud agent.
type FraudAnalysis struct {
	IntegrityScore float64 `json:"integrityScore"`
	RiskLevel      string  `json:"riskLevel"`
	MissingItems   []struct {
		Item   string `json:"item"`
		Code   string `json:"code"`
		Reason string `json:"reason"`
	} `json:"missingItems"`
	FlaggedSentences []struct {
		Sentence string `json:"sentence"`
		Reason   string `json:"reason"`
		Category string `json:"category"`
	} `json:"flaggedSentences"`
	RegulatoryContext string `json:"regulatoryContext"`
}

func FraudSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"integrityScore": {Type: genai.TypeNumber},
			"riskLevel":      {Type: genai.TypeString, Enum: riskLevels},
			"missingItems": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"item":   str,
						"code":   str,
						"reason": str,
					},
				},
			},
			"flaggedSentences": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"sentence": str,
						"reason":   str,
						"category": {Type: genai.TypeString, Enum: flagCategory},
					},
				},
			},
			"regulatoryContext": str,
		},
		Required: []string{"integrityScore", "riskLevel", "flaggedSentences", "regulatoryContext"},
	}
}

// ValidateFraudAnalysis rejects responses that do not match FraudSchema.
func ValidateFraudAnalysis(text string) error {
	if err := llm.RequireFields(text, "integrityScore", "riskLevel", "flaggedSentences", "regulatoryContext"); err != nil {
		return err
	}
	a, err := llm.DecodeJSON[FraudAnalysis](text)
	if err != nil {
		return err
	}
	if a.IntegrityScore < 0 || a.IntegrityScore > 100 {
		return &llm.ParseError{Reason: fmt.Sprintf("integrityScore %v out of range", a.IntegrityScore)}
	}
	if !contains(riskLevels, a.RiskLevel) {
		return &llm.ParseError{Reason: fmt.Sprintf("unknown riskLevel %q", a.RiskLevel)}
	}
	for _, f := range a.FlaggedSentences {
		if f.Category != "" && !contains(flagCategory, f.Category) {
			return &llm.ParseError{Reason: fmt.Sprintf("unknown flag category %q", f.Category)}
		}
	}
	return nil
}

// LineItem is one estimate entry.
type LineItem struct {
	Category string  `json:"category"`
	Selector string  `json:"selector"`
	Desc     string  `json:"desc"`
	Quantity float64 `json:"quantity"`
	Unit     string  `json:"unit"`
	Value    float64 `json:"value"`
	Note     string  `json:"note,omitempty"`
}

// ComplianceAudit is the structured output of the compliance agent.
type ComplianceAudit struct {
	Jurisdiction string     `json:"jurisdiction"`
	CodeYear     string     `json:"code_year"`
	LineItems    []LineItem `json:"line_items"`
}

// Total sums the value of every line item.
func (a ComplianceAudit) Total() float64 {
	var sum float64
	for _, item := range a.LineItems {
		sum += item.Value
	}
	return sum
}

func ComplianceSchema() *genai.Schema {
	str := &genai.Schema{Type: genai.TypeString}
	num := &genai.Schema{Type: genai.TypeNumber}
	return &genai.Schema{
		Type: genai.TypeObject,
		Properties: map[string]*genai.Schema{
			"jurisdiction": str,
			"code_year":    str,
			"line_items": {
				Type: genai.TypeArray,
				Items: &genai.Schema{
					Type: genai.TypeObject,
					Properties: map[string]*genai.Schema{
						"category": str,
						"selector": str,
						"desc":     str,
						"quantity": num,
						"unit":     str,
						"value":    num,
						"note":     str,
					},
				},
			},
		},
		Required: []string{"jurisdiction", "line_items"},
	}
}

func ValidateComplianceAudit(text string) error {
	if err := llm.RequireFields(text, "jurisdiction", "line_items"); err != nil {
		return err
	}
	_, err := llm.DecodeJSON[ComplianceAudit](text)
	return err
}

func contains(list []string, s string) bool {
	for _, v := range list {
		if v == s {
			return true
		}
	}
	return false
}
