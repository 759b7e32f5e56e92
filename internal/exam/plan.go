package exam

import "time"

// Plan returns the ordered part set for a mode. Parts are visited in this
// fixed total order and never revisited automatically.
func Plan(mode Mode) []Part {
	switch mode {
	case ModePractice:
		return buildPlan(practicePrompts, 20*time.Second, 45*time.Second)
	case ModeRoleplay:
		return buildPlan(roleplayPrompts, 20*time.Second, 45*time.Second)
	default:
		return buildPlan(simulatorPrompts, 15*time.Second, 30*time.Second)
	}
}

// buildPlan assembles the canonical three-part shape: short answers, one
// long turn with a preparation window, then discussion questions.
func buildPlan(prompts promptSet, shortWindow, discussWindow time.Duration) []Part {
	return []Part{
		{
			ID:       Part1,
			Title:    "Introduction and interview",
			Prompts:  numberPrompts(Part1, prompts.interview),
			Response: shortWindow,
		},
		{
			ID:       Part2,
			Title:    "Long turn",
			Prompts:  numberPrompts(Part2, prompts.longTurn),
			Response: 2 * time.Minute,
			Prep:     time.Minute,
		},
		{
			ID:       Part3,
			Title:    "Discussion",
			Prompts:  numberPrompts(Part3, prompts.discussion),
			Response: discussWindow,
		},
	}
}

func numberPrompts(part PartID, texts []string) []Prompt {
	out := make([]Prompt, 0, len(texts))
	for i, text := range texts {
		out = append(out, Prompt{Part: part, Index: i + 1, Text: text})
	}
	return out
}

type promptSet struct {
	interview  []string
	longTurn   []string
	discussion []string
}

var simulatorPrompts = promptSet{
	interview: []string{
		"Let's talk about your home town. Where are you from?",
		"What do you like most about living there?",
		"Do you work or are you a student?",
		"What do you usually do in your free time?",
		"How often do you spend time with your family?",
	},
	longTurn: []string{
		"Describe a memorable journey you have made. You should say where you went, how you travelled, who you were with, and explain why it was memorable. You have one minute to prepare.",
	},
	discussion: []string{
		"Why do you think people enjoy travelling to new places?",
		"How has travel changed compared with fifty years ago?",
		"Do you think tourism benefits local communities?",
		"What might travel look like in the future?",
	},
}

var practicePrompts = promptSet{
	interview: []string{
		"Tell me about a typical day in your life.",
		"What kind of food do you enjoy eating?",
		"Do you prefer mornings or evenings? Why?",
		"What was the last book or film you really enjoyed?",
		"Is there a skill you would like to learn?",
	},
	longTurn: []string{
		"Describe a person who has influenced you. You should say who they are, how you know them, what they have done, and explain why they influenced you. You have one minute to prepare.",
	},
	discussion: []string{
		"What qualities make someone a good role model?",
		"Do celebrities have a responsibility to behave well in public?",
		"How do role models differ between generations?",
		"Can negative examples also teach us something?",
	},
}

var roleplayPrompts = promptSet{
	interview: []string{
		"You are checking into a hotel. Introduce yourself to the receptionist.",
		"Ask about the facilities available to guests.",
		"Explain that there is a problem with your booking.",
		"Request a different room and give your reasons.",
		"Ask what time breakfast is served and where.",
	},
	longTurn: []string{
		"You are calling your landlord about a repair. Describe the problem, say when it started, explain what you have already tried, and ask what will be done about it. You have one minute to prepare.",
	},
	discussion: []string{
		"How do you usually deal with misunderstandings in conversation?",
		"Is it harder to resolve problems by phone than in person?",
		"What makes a complaint effective rather than rude?",
		"How important is politeness when asking for help?",
	},
}
