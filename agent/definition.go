package agent

// Role keys a council member.
type Role string

const (
	RolePlanner     Role = "planner"
	RoleImplementer Role = "implementer"
	RoleReasoner    Role = "reasoner"
	// RoleCritic is an alias of RoleReasoner.
	RoleCritic     Role = "critic"
	RoleInnovator  Role = "innovator"
	RoleSummarizer Role = "summarizer"
	RoleArbiter    Role = "arbiter"
)

// Canonical resolves aliases.
func (r Role) Canonical() Role {
	if r == RoleCritic {
		return RoleReasoner
	}
	return r
}

// Model configuration keys.
const (
	KeyOpus   = "MODEL_OPUS"
	KeySonnet = "MODEL_SONNET"
	KeyGPT    = "MODEL_GPT"
	KeyGrok   = "MODEL_GROK"
	KeyKimi   = "MODEL_KIMI"
	KeyGemini = "MODEL_GEMINI"
	KeyHaiku  = "MODEL_HAIKU"
)

// ModelKeys lists every model configuration key.
var ModelKeys = []string{KeyOpus, KeySonnet, KeyGPT, KeyGrok, KeyKimi, KeyGemini, KeyHaiku}

// UltimateFallbackModel is tried when no configured key resolves.
const UltimateFallbackModel = "gemini/gemini-2.0-flash"

// Definition describes one council member.
type Definition struct {
	Role        Role
	Name        string // display name, themed
	Avatar      string
	ModelKey    string
	Model       string // resolved from ModelKey; empty when unset
	Tier        int
	Prompt      Prompt
	Temperature float64
	MaxTokens   int64
}

// DefaultDefinitions returns the built-in council.
func DefaultDefinitions() []Definition {
	return []Definition{
		{Role: RoleArbiter, ModelKey: KeyOpus, Tier: 1, Prompt: NewPrompt(arbiterPrompt), Temperature: 0.4, MaxTokens: 4000},
		{Role: RolePlanner, ModelKey: KeySonnet, Tier: 2, Prompt: NewPrompt(plannerPrompt), Temperature: 0.7, MaxTokens: 2000},
		{Role: RoleImplementer, ModelKey: KeyGPT, Tier: 2, Prompt: NewPrompt(implementerPrompt), Temperature: 0.7, MaxTokens: 4000},
		{Role: RoleReasoner, ModelKey: KeyGrok, Tier: 2, Prompt: NewPrompt(reasonerPrompt), Temperature: 0.3, MaxTokens: 1500},
		{Role: RoleInnovator, ModelKey: KeyGemini, Tier: 2, Prompt: NewPrompt(innovatorPrompt), Temperature: 0.7, MaxTokens: 2000},
		{Role: RoleSummarizer, ModelKey: KeyHaiku, Tier: 3, Prompt: NewPrompt(summarizerPrompt), Temperature: 0.7, MaxTokens: 800},
	}
}

// tierFallbacks are tried after an agent's own key, in order.
var tierFallbacks = map[int][]string{
	1: {KeyOpus, KeySonnet, KeyGPT},
	2: {KeySonnet, KeyGPT, KeyGemini},
	3: {KeyHaiku, KeyGemini},
}

// cheapKeys are preferred once a run's budget is exhausted.
var cheapKeys = []string{KeyHaiku, KeyGemini}
