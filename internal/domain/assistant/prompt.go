package assistant

import (
	"fmt"

	"github.com/gmtcc/insight/internal/domain/journey"
)

// MaxHistory is the number of prior turns sent with a chat message.
const MaxHistory = 10

// Fixed copy returned when the model cannot answer.
const (
	FallbackInsightsUnconfigured = "AI service unavailable. Please check API Key configuration."
	FallbackInsightsEmpty        = "Unable to generate insights at this time."
	FallbackInsightsError        = "Error connecting to AI service."
	FallbackChatUnconfigured     = "I apologize, but I cannot connect to the service right now. Please check your configuration."
	FallbackChatEmpty            = "I'm sorry, I didn't catch that. Could you please rephrase?"
	FallbackChatError            = "I'm having trouble accessing my knowledge base right now. Please try again later."
)

const systemInstruction = `You are the AI Assistant for GMTCC Insight, a premier gut health and microbiome research company based in Hong Kong.

Your Role:
- Answer questions about gut health, microbiome testing, and GMTCC's specific offerings.
- Be professional, scientifically accurate, yet accessible and empathetic.
- Do NOT provide medical diagnoses. Always recommend consulting a specialist for medical conditions.

Product Knowledge:
1. Option A (Gut Discovery Kit):
   - Cost: HKD 3,000.
   - Includes: At-home collection kit, 16S rRNA Lab Analysis, and a Full Microbiome Report.
   - Best for: Discovery and baseline understanding.

2. Option B (Complete Gut Restoration):
   - Cost: HKD 3,900 (Special Year-End Price, normally HKD 4,800).
   - Includes: Everything in Option A PLUS a 20-min Video Consultation and a Complimentary 20-min BRT (Bio-Resonance) Check.
   - Best for: Taking action and building a personalized protocol.
   - 92% of customers choose this.

3. Consultation upgrade for Option A customers: HKD 1,200.

Key Processes:
- Timeline: Results take 3-4 weeks after the lab receives the sample.
- BRT: German bio-resonance technology used to verify supplement compatibility.
- Probiotics: Personalized protocols are purchased separately after consultation.

If asked about pricing, always mention the savings on Option B.`

// SystemInstruction is the fixed chat persona with product, pricing and
// process facts.
func SystemInstruction() string { return systemInstruction }

// InsightsPrompt asks for a short, non-diagnostic summary of r.
func InsightsPrompt(r journey.LabResults) string {
	return fmt.Sprintf(`You are a friendly and professional gut health specialist.
Analyze the following gut microbiome test results for a patient:
- Diversity Score: %d/100 (Higher is better)
- Beneficial Bacteria Load: %d%% (Target > 80%%)
- Pathogenic Bacteria Load: %d%% (Target < 10%%)
- Key Sensitivity: %s

Provide a 3-sentence summary of what this means for their health.
Be encouraging but realistic. Do not give medical advice, but suggest general wellness steps.
Format the output as a clean paragraph.`, r.DiversityScore, r.GoodBacteria, r.BadBacteria, r.Sensitivity)
}

// Truncate keeps the last MaxHistory turns.
func Truncate(history []Message) []Message {
	if len(history) <= MaxHistory {
		return history
	}
	return history[len(history)-MaxHistory:]
}
