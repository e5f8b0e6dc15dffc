package reactive

// FollowUpOption is a quick reply that replays a canonical prompt.
type FollowUpOption struct {
	ID     string
	Label  string
	Prompt string
}

const (
	OptionParadox     = "einstein_paradox"
	OptionProof       = "einstein_proof"
	OptionChangeTopic = "einstein_change_topic"
)

var followUpOptions = []FollowUpOption{
	{
		ID:     OptionParadox,
		Label:  "🤔 Расскажи про парадоксы",
		Prompt: "Расскажи мне о самых известных парадоксах теории относительности.",
	},
	{
		ID:     OptionProof,
		Label:  "🧪 А как это доказали?",
		Prompt: "Как экспериментально доказали формулу E=mc²?",
	},
	{
		ID:     OptionChangeTopic,
		Label:  "Достаточно, давай другое",
		Prompt: "Давай сменим тему. Расскажи мне что-нибудь интересное о твоей жизни в Принстоне.",
	},
}

// followUpLayout groups option ids into keyboard rows.
var followUpLayout = [][]string{
	{OptionParadox, OptionProof},
	{OptionChangeTopic},
}

// FollowUpOptions returns the fixed option set.
func FollowUpOptions() []FollowUpOption {
	return append([]FollowUpOption(nil), followUpOptions...)
}

// FindOption resolves an option id.
func FindOption(id string) (FollowUpOption, bool) {
	for _, opt := range followUpOptions {
		if opt.ID == id {
			return opt, true
		}
	}
	return FollowUpOption{}, false
}

// IsOption reports whether id names a follow-up option.
func IsOption(id string) bool {
	_, ok := FindOption(id)
	return ok
}

// FollowUpRows returns the options arranged as keyboard rows.
func FollowUpRows() [][]FollowUpOption {
	rows := make([][]FollowUpOption, 0, len(followUpLayout))
	for _, ids := range followUpLayout {
		row := make([]FollowUpOption, 0, len(ids))
		for _, id := range ids {
			if opt, ok := FindOption(id); ok {
				row = append(row, opt)
			}
		}
		rows = append(rows, row)
	}
	return rows
}
