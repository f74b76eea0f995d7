// Package classify maps free-form support text to a ticket category and
// priority tier. Matching is keyword-based over a fixed bilingual
// (English/Spanish) lexicon; both functions are pure and are invoked
// only when a ticket is created, never per message.
package classify

import (
	"strings"

	"github.com/spec-kit/support-router/internal/domain"
)

// Evaluation order is fixed: billing first, then subscription, then
// technical, then account. First match wins.
var categoryLexicon = []struct {
	category domain.TicketCategory
	keywords []string
}{
	{domain.CategoryBilling, []string{
		"pago", "pagar", "tarjeta", "cobro", "cobraron", "factura", "reembolso",
		"payment", "charge", "charged", "card", "invoice", "refund", "billing",
	}},
	{domain.CategorySubscription, []string{
		"suscripcion", "suscripción", "membresia", "membresía", "prime", "plan",
		"renovar", "renovacion", "cancelar",
		"subscription", "membership", "renew", "renewal", "cancel", "upgrade",
	}},
	{domain.CategoryTechnical, []string{
		"error", "falla", "no funciona", "no carga", "no puedo ver", "video",
		"bug", "crash", "broken", "not working", "doesn't work", "cant load",
		"can't load", "loading",
	}},
	{domain.CategoryAccount, []string{
		"cuenta", "contraseña", "acceso", "usuario", "perfil", "verificacion",
		"account", "password", "login", "log in", "access", "profile", "username",
	}},
}

var priorityLexicon = []struct {
	priority domain.TicketPriority
	keywords []string
}{
	{domain.TicketPriorityCritical, []string{
		"urgente", "emergencia", "inmediato", "ya mismo",
		"urgent", "emergency", "immediately", "asap", "right now",
	}},
	{domain.TicketPriorityHigh, []string{
		"importante", "no puedo acceder", "no puedo entrar", "pago fallido",
		"me cobraron",
		"important", "cannot access", "can't access", "locked out",
		"payment failed", "charged twice",
	}},
	{domain.TicketPriorityLow, []string{
		"pregunta", "consulta", "duda", "como", "cómo", "informacion",
		"question", "inquiry", "wondering", "how do", "info",
	}},
}

// DetectCategory classifies ticket text. Unmatched text falls back to
// the general category.
func DetectCategory(text string) domain.TicketCategory {
	normalized := strings.ToLower(text)
	for _, entry := range categoryLexicon {
		for _, keyword := range entry.keywords {
			if strings.Contains(normalized, keyword) {
				return entry.category
			}
		}
	}
	return domain.CategoryGeneral
}

// DetectPriority classifies urgency from ticket text and the reporting
// user. Critical terms are checked before high, high before low;
// unmatched text defaults to medium.
func DetectPriority(text string, user domain.User) domain.TicketPriority {
	normalized := strings.ToLower(text)
	for _, entry := range priorityLexicon {
		for _, keyword := range entry.keywords {
			if strings.Contains(normalized, keyword) {
				return entry.priority
			}
		}
	}
	return domain.TicketPriorityMedium
}

var spanishMarkers = []string{
	" el ", " la ", " los ", " las ", " que ", " con ", " por ", " para ",
	"hola", "gracias", "ayuda", "necesito", "quiero", "tengo", "puedo",
	"ñ", "¿", "¡", "á", "é", "í", "ó", "ú",
}

// DetectLanguage returns a best-effort "es"/"en" hint. The user's
// declared language wins when present; the text heuristic only fills
// the gap.
func DetectLanguage(text string, user domain.User) string {
	if lang := strings.ToLower(user.Language); strings.HasPrefix(lang, "es") {
		return "es"
	} else if lang != "" {
		return "en"
	}
	normalized := " " + strings.ToLower(text) + " "
	for _, marker := range spanishMarkers {
		if strings.Contains(normalized, marker) {
			return "es"
		}
	}
	return "en"
}
