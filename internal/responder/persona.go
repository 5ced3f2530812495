package responder

import "github.com/opencoach/chatsync/internal/model"

// Rule maps incoming keywords to a fixed response. The first rule whose
// keyword matches wins, so the response category is deterministic for a
// given input.
type Rule struct {
	Keywords []string
	Response string
}

// Persona is a simulated remote coach used for synthetic conversations.
type Persona struct {
	Participant model.Participant
	Specialty   string
	Greeting    string // seeded first, already read
	FollowUp    string // seeded second, unread; becomes the preview
	Rules       []Rule
	Defaults    []string // fallback pool when no keyword matches
}

// ConversationID returns the stable id of the persona's synthetic
// conversation, so cache restores and re-bootstraps converge.
func (p *Persona) ConversationID() string {
	return "synthetic:" + p.Participant.Email
}

// DefaultPersonas is the fixed set synthesized when neither the cache nor
// the backend yields any conversations.
func DefaultPersonas() []Persona {
	return []Persona{
		{
			Participant: model.Participant{
				Email:       "maya.carter@opencoach.club",
				DisplayName: "Maya Carter",
				Role:        "Coach",
			},
			Specialty: "sprinting",
			Greeting:  "Hey! I'm Maya, sprint coach here at the club.",
			FollowUp:  "Whenever you're ready, tell me about your current sprint times and we'll build from there.",
			Rules: []Rule{
				{
					Keywords: []string{"start", "block", "reaction"},
					Response: "Starts are won in the first three steps. Film your block exits from the side and we'll look at your shin angles.",
				},
				{
					Keywords: []string{"100m", "200m", "time", "pb", "race"},
					Response: "Good target to chase. Let's split it into drive phase, max velocity and speed endurance, and test each separately.",
				},
				{
					Keywords: []string{"sprint", "speed", "fast"},
					Response: "Speed comes from relaxed force, not effort. Two quality sessions a week, full recoveries between reps.",
				},
			},
			Defaults: []string{
				"Tell me more — distances, surfaces, how your legs felt.",
				"Noted. How did the last session feel compared to the week before?",
				"Let's keep it simple this week and review on Sunday.",
			},
		},
		{
			Participant: model.Participant{
				Email:       "lucas.brandt@opencoach.club",
				DisplayName: "Lucas Brandt",
				Role:        "Coach",
			},
			Specialty: "strength",
			Greeting:  "Lucas here, strength and conditioning.",
			FollowUp:  "Send me your current lifts when you get a minute and I'll sketch a block for you.",
			Rules: []Rule{
				{
					Keywords: []string{"squat", "deadlift", "lift", "weights", "gym"},
					Response: "Keep the bar speed honest. If the last rep grinds, the weight is managing you, not the other way round.",
				},
				{
					Keywords: []string{"sore", "tired", "fatigue"},
					Response: "Soreness is information, not a medal. Drop the volume 30% this week and keep the intensity.",
				},
			},
			Defaults: []string{
				"What does your training week look like right now?",
				"Solid. Progress is boring on purpose — small jumps, every week.",
				"Log it and we'll compare numbers next month.",
			},
		},
		{
			Participant: model.Participant{
				Email:       "elena.voss@opencoach.club",
				DisplayName: "Elena Voss",
				Role:        "Nutritionist",
			},
			Specialty: "nutrition",
			Greeting:  "Hi, I'm Elena — I handle nutrition for the squad.",
			FollowUp:  "When you have time, walk me through a normal day of eating and we'll find the easy wins first.",
			Rules: []Rule{
				{
					Keywords: []string{"protein", "meal", "diet", "eat", "food"},
					Response: "Anchor every meal around protein and build the rest of the plate around your training day.",
				},
				{
					Keywords: []string{"weight", "cut", "gain"},
					Response: "Change weight slowly or you'll pay for it on the track. Half a kilo a week, no crash plans.",
				},
			},
			Defaults: []string{
				"Hydration first — how much water did you actually drink today?",
				"That's workable. Consistency beats the perfect plan you can't follow.",
				"Bring me a three-day food log and we'll make it concrete.",
			},
		},
		{
			Participant: model.Participant{
				Email:       "tomas.rivera@opencoach.club",
				DisplayName: "Tomás Rivera",
				Role:        "Physiotherapist",
			},
			Specialty: "recovery",
			Greeting:  "Tomás from the physio room — good to meet you.",
			FollowUp:  "If anything is nagging you, describe where and when it hurts and we'll get ahead of it.",
			Rules: []Rule{
				{
					Keywords: []string{"pain", "hurt", "injury", "injured"},
					Response: "Sharp pain means stop, dull ache means modify. Which one are we talking about, and where exactly?",
				},
				{
					Keywords: []string{"hamstring", "calf", "ankle", "knee"},
					Response: "Let's not guess with that one. Reduce sprint volume and come in so I can have a proper look.",
				},
				{
					Keywords: []string{"recovery", "stretch", "sleep"},
					Response: "Sleep is the only recovery method with unlimited budget. Everything else is a rounding error.",
				},
			},
			Defaults: []string{
				"On a scale of annoying to alarming, where is it?",
				"Keep moving, gently. Total rest is rarely the answer.",
				"Check in again after your next session and tell me how it responded.",
			},
		},
	}
}
