package routing

import (
	"sort"
	"strings"
)

// quickAnswer is a pre-authored bilingual template addressable by a
// short numeric id.
type quickAnswer struct {
	Label string
	EN    string
	ES    string
}

var quickAnswers = map[string]quickAnswer{
	"1": {
		Label: "greeting",
		EN:    "Hi! Thanks for reaching out to support. An agent is looking at your request and will get back to you shortly.",
		ES:    "¡Hola! Gracias por escribir a soporte. Un agente está revisando tu solicitud y te responderá en breve.",
	},
	"2": {
		Label: "payment-received",
		EN:    "We received your payment and your membership is active. If you still see limited access, log out and back in once.",
		ES:    "Recibimos tu pago y tu membresía está activa. Si aún ves acceso limitado, cierra sesión y vuelve a entrar.",
	},
	"3": {
		Label: "troubleshoot",
		EN:    "Please try these steps: 1) close and reopen the app, 2) check your connection, 3) retry the action. Let us know if the problem persists.",
		ES:    "Por favor intenta estos pasos: 1) cierra y abre la app, 2) revisa tu conexión, 3) intenta de nuevo. Avísanos si el problema continúa.",
	},
	"4": {
		Label: "subscription-info",
		EN:    "You can review, renew or cancel your subscription from your profile at any time. Renewal reminders arrive one day before expiry.",
		ES:    "Puedes revisar, renovar o cancelar tu suscripción desde tu perfil en cualquier momento. Los recordatorios de renovación llegan un día antes del vencimiento.",
	},
	"5": {
		Label: "wrap-up",
		EN:    "Is there anything else we can help you with? If not, we will close this conversation for now — you can always write again.",
		ES:    "¿Hay algo más en lo que podamos ayudarte? Si no, cerraremos esta conversación por ahora — siempre puedes escribirnos de nuevo.",
	},
}

// QuickAnswerText resolves a template by id for the given language,
// falling back to English. The second return reports whether the id
// exists.
func QuickAnswerText(id, lang string) (string, bool) {
	answer, ok := quickAnswers[id]
	if !ok {
		return "", false
	}
	if strings.HasPrefix(strings.ToLower(lang), "es") {
		return answer.ES, true
	}
	return answer.EN, true
}

// QuickAnswerIDs lists the available template ids with labels, for the
// admin help response.
func QuickAnswerIDs() []string {
	ids := make([]string, 0, len(quickAnswers))
	for id, answer := range quickAnswers {
		ids = append(ids, id+" ("+answer.Label+")")
	}
	sort.Strings(ids)
	return ids
}
