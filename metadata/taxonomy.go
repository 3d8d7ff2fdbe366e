package metadata

import (
	"slices"
	"strings"
)

// General is the catch-all label used when no taxonomy keyword matches.
const General = "general"

// generalConfidence is the fixed confidence of a General classification.
const generalConfidence = 0.3

// Label describes one document type in the taxonomy.
type Label struct {
	Name        string
	Category    string
	Subcategory string
	Keywords    []string
}

// Taxonomy is the fixed set of document types the classifier knows,
// in lexical order of Name.
var Taxonomy = []Label{
	{"business_plan", "strategy", "planning", []string{"business plan", "executive summary", "market analysis", "competitive analysis", "financial projections", "go-to-market", "mission", "target market", "funding request", "milestones"}},
	{"compliance_report", "compliance", "audit", []string{"compliance", "audit", "regulation", "regulatory", "findings", "remediation", "control", "risk assessment", "sox", "gdpr"}},
	{"contract", "legal", "agreement", []string{"agreement", "contract", "party", "parties", "terms and conditions", "hereby", "effective date", "termination", "governing law", "witness"}},
	{"employment_agreement", "hr", "employment", []string{"employment", "employee", "employer", "salary", "compensation", "benefits", "job title", "probation", "at-will", "start date"}},
	{"financial_report", "financial", "reporting", []string{"balance sheet", "income statement", "cash flow", "revenue", "net income", "ebitda", "fiscal year", "quarterly", "assets", "liabilities"}},
	{"invoice", "financial", "accounts_payable", []string{"invoice", "invoice number", "bill to", "payment due", "due date", "amount due", "po number", "subtotal", "tax", "remit"}},
	{"marketing", "marketing", "campaign", []string{"campaign", "brand", "audience", "marketing", "engagement", "conversion", "seo", "social media", "advertising", "promotion"}},
	{"medical", "healthcare", "clinical", []string{"patient", "diagnosis", "treatment", "medical", "prescription", "physician", "clinical", "symptoms", "dosage", "hospital"}},
	{"meeting_notes", "operations", "meetings", []string{"meeting", "minutes", "attendees", "agenda", "action items", "discussed", "next steps", "decisions", "follow-up", "present"}},
	{"nda", "legal", "confidentiality", []string{"non-disclosure", "confidential information", "nda", "disclosing party", "receiving party", "confidentiality", "proprietary", "trade secret", "obligations", "disclosure"}},
	{"policy", "compliance", "policy", []string{"policy", "procedure", "guidelines", "scope", "purpose", "responsibilities", "must", "shall", "prohibited", "effective"}},
	{"purchase_order", "financial", "procurement", []string{"purchase order", "po number", "ship to", "vendor", "quantity", "unit price", "delivery date", "order date", "supplier", "terms"}},
	{"receipt", "financial", "expenses", []string{"receipt", "paid", "payment received", "thank you for your purchase", "transaction", "cash", "change", "card", "merchant", "total"}},
	{"research_paper", "research", "academic", []string{"abstract", "introduction", "methodology", "results", "conclusion", "references", "hypothesis", "literature review", "experiment", "findings"}},
	{"resume", "hr", "recruiting", []string{"resume", "curriculum vitae", "experience", "education", "skills", "objective", "references", "employment history", "certifications", "achievements"}},
	{"supply_chain", "operations", "logistics", []string{"supply chain", "inventory", "logistics", "shipment", "warehouse", "supplier", "procurement", "lead time", "freight", "distribution"}},
	{"tax_document", "financial", "tax", []string{"tax return", "taxable income", "deduction", "irs", "w-2", "1099", "tax year", "withholding", "filing status", "adjusted gross income"}},
}

var labelByName = func() map[string]Label {
	m := make(map[string]Label, len(Taxonomy))
	for _, l := range Taxonomy {
		m[l.Name] = l
	}
	return m
}()

// IsLabel reports whether name is a taxonomy label (General included).
func IsLabel(name string) bool {
	_, ok := labelByName[name]
	return ok || name == General
}

// Alternative is a runner-up classification.
type Alternative struct {
	Label string  `json:"label"`
	Score float64 `json:"score"`
}

// Classification is the classifier output before any hint is applied.
type Classification struct {
	Label        string        `json:"label"`
	Category     string        `json:"category"`
	Subcategory  string        `json:"subcategory"`
	Confidence   float64       `json:"confidence"`
	MatchRatio   float64       `json:"match_ratio"`
	Alternatives []Alternative `json:"alternatives"`
}

// Classify scores every label by the share of its keywords found in text.
// Ties go to the lexically first label.
func Classify(text string) Classification {
	lower := strings.ToLower(text)
	type scored struct {
		label Label
		score float64
	}
	scores := make([]scored, 0, len(Taxonomy))
	for _, l := range Taxonomy {
		matched := 0
		for _, kw := range l.Keywords {
			if strings.Contains(lower, kw) {
				matched++
			}
		}
		scores = append(scores, scored{l, float64(matched) / float64(len(l.Keywords))})
	}
	slices.SortStableFunc(scores, func(a, b scored) int {
		switch {
		case a.score > b.score:
			return -1
		case a.score < b.score:
			return 1
		}
		return strings.Compare(a.label.Name, b.label.Name)
	})

	best := scores[0]
	if best.score == 0 {
		return Classification{
			Label:        General,
			Category:     General,
			Subcategory:  General,
			Confidence:   generalConfidence,
			Alternatives: []Alternative{},
		}
	}
	c := Classification{
		Label:        best.label.Name,
		Category:     best.label.Category,
		Subcategory:  best.label.Subcategory,
		Confidence:   round3(min(1, best.score*1.2)),
		MatchRatio:   round3(best.score),
		Alternatives: []Alternative{},
	}
	for _, s := range scores[1:] {
		if len(c.Alternatives) == 3 || s.score == 0 {
			break
		}
		c.Alternatives = append(c.Alternatives, Alternative{Label: s.label.Name, Score: round3(s.score)})
	}
	return c
}
