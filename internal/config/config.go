// Package config provides configuration types and loading for replydesk.
package config

import "time"

// Config is the root configuration struct.
// Top-level groups: Owner, Accumulator, Routing, Providers, Channels,
// Journal, Gateway, Scheduler.
type Config struct {
	Owner       OwnerConfig       `json:"owner"`
	Accumulator AccumulatorConfig `json:"accumulator"`
	Routing     RoutingConfig     `json:"routing"`
	Providers   ProvidersConfig   `json:"providers"`
	Channels    ChannelsConfig    `json:"channels"`
	Journal     JournalConfig     `json:"journal"`
	Gateway     GatewayConfig     `json:"gateway"`
	Scheduler   SchedulerConfig   `json:"scheduler"`
}

// ---------------------------------------------------------------------------
// Owner – the human reviewer
// ---------------------------------------------------------------------------

// OwnerConfig identifies the reviewer who approves drafts.
type OwnerConfig struct {
	ReviewerID      string `json:"reviewerId" envconfig:"REVIEWER_ID"`
	Channel         string `json:"channel" envconfig:"CHANNEL"`
	ConversationID  string `json:"conversationId" envconfig:"CONVERSATION_ID"`
	NotifyOnStartup bool   `json:"notifyOnStartup" envconfig:"NOTIFY_ON_STARTUP"`
}

// ---------------------------------------------------------------------------
// Accumulator – message batching window
// ---------------------------------------------------------------------------

// AccumulatorConfig controls the per-conversation batching window.
type AccumulatorConfig struct {
	Window time.Duration `json:"window" envconfig:"WINDOW"`
}

// ---------------------------------------------------------------------------
// Routing – confidence composition and gates
// ---------------------------------------------------------------------------

// RoutingConfig controls the confidence router.
type RoutingConfig struct {
	AutoReplyThreshold int           `json:"autoReplyThreshold" envconfig:"AUTO_REPLY_THRESHOLD"`
	Blacklist          []string      `json:"blacklist"`
	WorkingHoursStart  int           `json:"workingHoursStart" envconfig:"WORKING_HOURS_START"`
	WorkingHoursEnd    int           `json:"workingHoursEnd" envconfig:"WORKING_HOURS_END"`
	Timezone           string        `json:"timezone" envconfig:"TIMEZONE"`
	Weights            WeightsConfig `json:"weights"`
}

// WeightsConfig holds the per-source confidence weights. They are
// renormalized at runtime over the sources that are actually available.
type WeightsConfig struct {
	Generation float64 `json:"generation" envconfig:"GENERATION"`
	Calendar   float64 `json:"calendar" envconfig:"CALENDAR"`
	Kanban     float64 `json:"kanban" envconfig:"KANBAN"`
	Knowledge  float64 `json:"knowledge" envconfig:"KNOWLEDGE"`
}

// ---------------------------------------------------------------------------
// Providers – confidence signal sources
// ---------------------------------------------------------------------------

// ProvidersConfig contains all signal provider configurations.
type ProvidersConfig struct {
	Generation GenerationConfig `json:"generation"`
	Calendar   CalendarConfig   `json:"calendar"`
	Kanban     KanbanConfig     `json:"kanban"`
}

// GenerationConfig configures the reply generation provider
// (OpenAI-compatible chat completions endpoint).
type GenerationConfig struct {
	APIKey           string        `json:"apiKey" envconfig:"API_KEY"`
	APIBase          string        `json:"apiBase" envconfig:"API_BASE"`
	Model            string        `json:"model" envconfig:"MODEL"`
	Timeout          time.Duration `json:"timeout" envconfig:"TIMEOUT"`
	BusinessDataPath string        `json:"businessDataPath" envconfig:"BUSINESS_DATA_PATH"`
	InstructionsPath string        `json:"instructionsPath" envconfig:"INSTRUCTIONS_PATH"`
}

// CalendarConfig configures the free/busy availability provider.
type CalendarConfig struct {
	Enabled        bool   `json:"enabled" envconfig:"ENABLED"`
	FreeBusyURL    string `json:"freeBusyUrl" envconfig:"FREEBUSY_URL"`
	APIKey         string `json:"apiKey" envconfig:"API_KEY"`
	LookaheadHours int    `json:"lookaheadHours" envconfig:"LOOKAHEAD_HOURS"`
	BusyEventLimit int    `json:"busyEventLimit" envconfig:"BUSY_EVENT_LIMIT"`
}

// KanbanConfig configures the Trello board provider.
type KanbanConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	APIBase string `json:"apiBase" envconfig:"API_BASE"`
	APIKey  string `json:"apiKey" envconfig:"API_KEY"`
	Token   string `json:"token" envconfig:"TOKEN"`
	BoardID string `json:"boardId" envconfig:"BOARD_ID"`
}

// ---------------------------------------------------------------------------
// Channels – messaging integrations
// ---------------------------------------------------------------------------

// ChannelsConfig contains all channel configurations.
type ChannelsConfig struct {
	Telegram TelegramConfig `json:"telegram"`
	Slack    SlackConfig    `json:"slack"`
	WhatsApp WhatsAppConfig `json:"whatsapp"`
	Kafka    KafkaConfig    `json:"kafka"`
}

// TelegramConfig configures the Telegram channel.
type TelegramConfig struct {
	Enabled     bool   `json:"enabled" envconfig:"ENABLED"`
	Token       string `json:"token" envconfig:"TOKEN"`
	APIBase     string `json:"apiBase" envconfig:"API_BASE"`
	PollTimeout int    `json:"pollTimeout" envconfig:"POLL_TIMEOUT"`
}

// SlackConfig configures the Slack reviewer channel (Socket Mode).
type SlackConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"ENABLED"`
	BotToken      string `json:"botToken" envconfig:"BOT_TOKEN"`
	AppToken      string `json:"appToken" envconfig:"APP_TOKEN"`
	ReviewChannel string `json:"reviewChannel" envconfig:"REVIEW_CHANNEL"`
}

// WhatsAppConfig configures the WhatsApp channel.
type WhatsAppConfig struct {
	Enabled bool   `json:"enabled" envconfig:"ENABLED"`
	DBPath  string `json:"dbPath" envconfig:"DB_PATH"`
	QRPath  string `json:"qrPath" envconfig:"QR_PATH"`
}

// KafkaConfig configures the Kafka inbound conversation feed.
type KafkaConfig struct {
	Enabled       bool   `json:"enabled" envconfig:"ENABLED"`
	Brokers       string `json:"brokers" envconfig:"BROKERS"`
	Topic         string `json:"topic" envconfig:"TOPIC"`
	ConsumerGroup string `json:"consumerGroup" envconfig:"CONSUMER_GROUP"`
}

// ---------------------------------------------------------------------------
// Journal – audit and knowledge storage
// ---------------------------------------------------------------------------

// JournalConfig configures the SQLite journal.
type JournalConfig struct {
	Path string `json:"path" envconfig:"PATH"`
}

// ---------------------------------------------------------------------------
// Gateway – HTTP control surface
// ---------------------------------------------------------------------------

// GatewayConfig configures the HTTP control surface.
type GatewayConfig struct {
	Host string `json:"host" envconfig:"HOST"`
	Port int    `json:"port" envconfig:"PORT"`
}

// ---------------------------------------------------------------------------
// Scheduler – periodic routing passes
// ---------------------------------------------------------------------------

// SchedulerConfig controls the periodic check scheduler.
type SchedulerConfig struct {
	Enabled         bool          `json:"enabled" envconfig:"ENABLED"`
	TickInterval    time.Duration `json:"tickInterval" envconfig:"TICK_INTERVAL"`
	CheckInterval   time.Duration `json:"checkInterval" envconfig:"CHECK_INTERVAL"`
	MaxConcurrent   int           `json:"maxConcurrent" envconfig:"MAX_CONCURRENT"`
	RetainDecisions time.Duration `json:"retainDecisions" envconfig:"RETAIN_DECISIONS"`
}

// DefaultConfig returns a Config with sensible defaults.
func DefaultConfig() *Config {
	return &Config{
		Owner: OwnerConfig{
			Channel:         "telegram",
			NotifyOnStartup: true,
		},
		Accumulator: AccumulatorConfig{
			Window: 7 * time.Second,
		},
		Routing: RoutingConfig{
			AutoReplyThreshold: 90,
			WorkingHoursStart:  9,
			WorkingHoursEnd:    18,
			Timezone:           "Europe/Moscow",
			Weights: WeightsConfig{
				Generation: 0.60,
				Calendar:   0.20,
				Kanban:     0.10,
				Knowledge:  0.10,
			},
		},
		Providers: ProvidersConfig{
			Generation: GenerationConfig{
				APIBase: "https://api.openai.com/v1",
				Model:   "gpt-4o-mini",
				Timeout: 30 * time.Second,
			},
			Calendar: CalendarConfig{
				LookaheadHours: 24,
				BusyEventLimit: 3,
			},
			Kanban: KanbanConfig{
				APIBase: "https://api.trello.com",
			},
		},
		Channels: ChannelsConfig{
			Telegram: TelegramConfig{
				APIBase:     "https://api.telegram.org",
				PollTimeout: 50,
			},
		},
		Journal: JournalConfig{
			Path: "~/.replydesk/journal.db",
		},
		Gateway: GatewayConfig{
			Host: "127.0.0.1", // Secure default
			Port: 18890,
		},
		Scheduler: SchedulerConfig{
			Enabled:         false,
			TickInterval:    60 * time.Second,
			CheckInterval:   30 * time.Minute,
			MaxConcurrent:   1,
			RetainDecisions: 90 * 24 * time.Hour,
		},
	}
}
