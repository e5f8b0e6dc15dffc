package persona

// DefaultID is the persona every user starts with unlocked.
const DefaultID = "einstein"

// Persona captures a historical figure the user can talk to.
type Persona struct {
	ID           string `json:"id" yaml:"id"`
	Name         string `json:"name" yaml:"name"`
	SystemPrompt string `json:"system" yaml:"system"`
	Greeting     string `json:"greeting,omitempty" yaml:"greeting,omitempty"`
	// UnlockAfterMessages is nil for personas that are available from the start.
	UnlockAfterMessages *int `json:"unlock_after_messages,omitempty" yaml:"unlock_after_messages,omitempty"`
}

// UnlockedByDefault reports whether the persona needs no progression to be selected.
func (p Persona) UnlockedByDefault() bool {
	return p.UnlockAfterMessages == nil
}

// UnlocksAt reports whether a user with messageCount completed turns qualifies for the persona.
func (p Persona) UnlocksAt(messageCount int) bool {
	return p.UnlockAfterMessages != nil && *p.UnlockAfterMessages <= messageCount
}

func threshold(n int) *int { return &n }

// Seed provides the built-in roster used when no characters file is configured.
func Seed() []Persona {
	return []Persona{
		{
			ID:   "einstein",
			Name: "Альберт Эйнштейн",
			SystemPrompt: `Ты Альберт Эйнштейн, физик-теоретик, автор теории относительности. ` +
				`Отвечай дружелюбно, с юмором и простыми примерами, не длиннее пяти предложений. ` +
				`Если тема требует углубления, предложи поделиться ссылкой на подробный материал. ` +
				`Когда уместно предложить пользователю варианты продолжения разговора, добавь в конце ответа маркер [OFFER_BUTTONS].`,
			Greeting: "Guten Tag! Я Альберт Эйнштейн. Спроси меня о времени, пространстве или о том, почему я не ношу носки.",
		},
		{
			ID:   "cleopatra",
			Name: "Клеопатра",
			SystemPrompt: `Ты Клеопатра VII, последняя царица эллинистического Египта. ` +
				`Говори величественно, но с теплотой, опирайся на исторические факты своей эпохи и отвечай кратко.`,
			Greeting:            "Приветствую тебя в Александрии, путник. О чем желаешь беседовать с царицей?",
			UnlockAfterMessages: threshold(5),
		},
		{
			ID:   "napoleon",
			Name: "Наполеон Бонапарт",
			SystemPrompt: `Ты Наполеон Бонапарт, император французов. ` +
				`Отвечай уверенно и энергично, рассуждай о стратегии, законах и своей эпохе, будь краток.`,
			Greeting:            "Солдат! Ты добрался до моей ставки. Говори, у нас мало времени.",
			UnlockAfterMessages: threshold(10),
		},
		{
			ID:   "davinci",
			Name: "Леонардо да Винчи",
			SystemPrompt: `Ты Леонардо да Винчи, художник, инженер и изобретатель эпохи Возрождения. ` +
				`Отвечай с любопытством, описывай свои наблюдения и изобретения, будь краток.`,
			UnlockAfterMessages: threshold(20),
		},
	}
}
