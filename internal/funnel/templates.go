// Package funnel implements the WhatsApp sales funnel: stage transitions
// driven by classified replies, initial outreach, follow-up reminders and
// the administrative lead operations.
package funnel

import "os"

// Templates holds the Twilio Content SIDs for every funnel message. Each
// field can be overridden through its FUNNEL_TEMPLATE_* environment
// variable; the defaults are the production template SIDs.
type Templates struct {
	// Intro opens the funnel for leads submitted through the API.
	Intro string
	// IntakeIntro opens the funnel for leads imported through the intake queue.
	IntakeIntro string
	// Reminder is the nudge sent when a lead never answers the intro.
	Reminder string
	// Nutrition is sent on entering the nutrition stage.
	Nutrition string
	// Case is sent on entering the case stage.
	Case string
	// Projection is sent on entering the projection stage. Takes the lead's
	// name as a variable.
	Projection string
	// RecoveryReturn is sent when a lead comes back from recovery. Takes the
	// lead's name as a variable.
	RecoveryReturn string
	// Offer is sent on entering the offer stage.
	Offer string
	// Checkout carries the payment link; also resent when a lead confirms
	// again at checkout.
	Checkout string
	// Declined is the soft goodbye sent on every negative transition.
	Declined string
}

// DefaultTemplates returns the production template set.
func DefaultTemplates() Templates {
	return Templates{
		Intro:          "HX3a3278be375c5f6368dc282229dfdd89",
		IntakeIntro:    "HXfb376726c199d4fc794977c6d62c4037",
		Reminder:       "HX1c8acc6fb0b98f806baf1d20c8ee9d54",
		Nutrition:      "HX056f4623440f90a7d063f35c11e51b21",
		Case:           "HX7dd20c1f849fbfef0e86969e3bb830ed",
		Projection:     "HX9c35981fd182b8bafb7ba86f82f787c9",
		RecoveryReturn: "HX056f4623440f90a7d063f35c11e51b21",
		Offer:          "HX5cf4af187864c97a446d5cbc1572ccca",
		Checkout:       "HX8baef274f434c675cd1e1301dc8b4e4c",
		Declined:       "HX4d904d8b40ca29f56b466b5bf29b27b4",
	}
}

// TemplatesFromEnv returns the default set with any FUNNEL_TEMPLATE_*
// environment overrides applied.
func TemplatesFromEnv() Templates {
	t := DefaultTemplates()
	overrideEnv(&t.Intro, "FUNNEL_TEMPLATE_INTRO")
	overrideEnv(&t.IntakeIntro, "FUNNEL_TEMPLATE_INTAKE_INTRO")
	overrideEnv(&t.Reminder, "FUNNEL_TEMPLATE_REMINDER")
	overrideEnv(&t.Nutrition, "FUNNEL_TEMPLATE_NUTRITION")
	overrideEnv(&t.Case, "FUNNEL_TEMPLATE_CASE")
	overrideEnv(&t.Projection, "FUNNEL_TEMPLATE_PROJECTION")
	overrideEnv(&t.RecoveryReturn, "FUNNEL_TEMPLATE_RECOVERY_RETURN")
	overrideEnv(&t.Offer, "FUNNEL_TEMPLATE_OFFER")
	overrideEnv(&t.Checkout, "FUNNEL_TEMPLATE_CHECKOUT")
	overrideEnv(&t.Declined, "FUNNEL_TEMPLATE_DECLINED")
	return t
}

func overrideEnv(target *string, key string) {
	if v := os.Getenv(key); v != "" {
		*target = v
	}
}
