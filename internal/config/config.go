package config

import (
	"fmt"
	"log"
	"os"
	"strconv"
	"time"

	"github.com/joho/godotenv"
	"gopkg.in/yaml.v3"
)

// Config holds application configuration.
type Config struct {
	HTTPAddress string `yaml:"http_address"`
	LogLevel    string `yaml:"log_level"`
	LogFormat   string `yaml:"log_format"`
	// GatewayToken, when set, is required on control connections.
	GatewayToken string `yaml:"gateway_token"`

	LiveKitURL       string `yaml:"livekit_url"`
	LiveKitAPIKey    string `yaml:"livekit_api_key"`
	LiveKitAPISecret string `yaml:"livekit_api_secret"`
	AgentIdentity    string `yaml:"agent_identity"`

	// Recognizer selects the speech recognizer: "deepgram" or "assemblyai".
	Recognizer    string `yaml:"recognizer"`
	DeepgramKey   string `yaml:"deepgram_api_key"`
	DeepgramModel string `yaml:"deepgram_model"`
	AssemblyAIKey string `yaml:"assemblyai_api_key"`

	LLMKey       string `yaml:"llm_api_key"`
	LLMBaseURL   string `yaml:"llm_base_url"`
	LLMModel     string `yaml:"llm_model"`
	LLMMaxTokens int    `yaml:"llm_max_tokens"`

	// Synthesizer selects the speech synthesizer: "elevenlabs" or "deepgram".
	Synthesizer       string `yaml:"synthesizer"`
	ElevenLabsKey     string `yaml:"elevenlabs_api_key"`
	ElevenLabsModel   string `yaml:"elevenlabs_model"`
	ElevenLabsLatency int    `yaml:"elevenlabs_streaming_latency"`
	DeepgramTTSModel  string `yaml:"deepgram_tts_model"`

	// Decoder selects the mp3 decoder: "mp3" (in process) or "ffmpeg".
	Decoder    string `yaml:"decoder"`
	FFmpegPath string `yaml:"ffmpeg_path"`

	SupabaseURL            string `yaml:"supabase_url"`
	SupabaseServiceRoleKey string `yaml:"supabase_service_role_key"`

	WarmUp             time.Duration `yaml:"warm_up"`
	ConnectTimeout     time.Duration `yaml:"connect_timeout"`
	SummaryInterval    time.Duration `yaml:"summary_interval"`
	InterimTranscripts bool          `yaml:"interim_transcripts"`
}

// Load reads .env, environment variables and the optional CONFIG_FILE overlay.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Printf("No .env file found or error loading it: %v", err)
	}

	cfg := Config{
		HTTPAddress: getEnv("HTTP_ADDRESS", ":8080"),
		LogLevel:    getEnv("LOG_LEVEL", "info"),
		LogFormat:   getEnv("LOG_FORMAT", "json"),

		GatewayToken: os.Getenv("GATEWAY_TOKEN"),

		LiveKitURL:       os.Getenv("LIVEKIT_URL"),
		LiveKitAPIKey:    os.Getenv("LIVEKIT_API_KEY"),
		LiveKitAPISecret: os.Getenv("LIVEKIT_API_SECRET"),
		AgentIdentity:    getEnv("AGENT_IDENTITY", "agent-bot"),

		Recognizer:    getEnv("RECOGNIZER", "deepgram"),
		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel: getEnv("DEEPGRAM_MODEL", "nova-2"),
		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),

		LLMKey:       firstNonEmpty(os.Getenv("GROQ_API_KEY"), os.Getenv("OPENAI_API_KEY")),
		LLMBaseURL:   getEnv("LLM_BASE_URL", "https://api.groq.com/openai/v1"),
		LLMModel:     getEnv("LLM_MODEL", "llama-3.1-8b-instant"),
		LLMMaxTokens: getEnvInt("LLM_MAX_TOKENS", 150),

		Synthesizer:       getEnv("SYNTHESIZER", "elevenlabs"),
		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsModel:   getEnv("ELEVENLABS_MODEL_ID", "eleven_flash_v2_5"),
		ElevenLabsLatency: getEnvInt("ELEVENLABS_STREAMING_LATENCY", 4),
		DeepgramTTSModel:  getEnv("DEEPGRAM_TTS_MODEL", "aura-2-thalia-en"),

		Decoder:    getEnv("DECODER", "mp3"),
		FFmpegPath: getEnv("FFMPEG_PATH", "ffmpeg"),

		SupabaseURL:            firstNonEmpty(os.Getenv("SUPABASE_URL"), os.Getenv("NEXT_PUBLIC_SUPABASE_URL")),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),

		WarmUp:             getEnvDuration("WARM_UP", 1500*time.Millisecond),
		ConnectTimeout:     getEnvDuration("CONNECT_TIMEOUT", 5*time.Second),
		SummaryInterval:    getEnvDuration("LATENCY_SUMMARY_INTERVAL", time.Minute),
		InterimTranscripts: getEnvBool("INTERIM_TRANSCRIPTS", false),
	}

	if path := os.Getenv("CONFIG_FILE"); path != "" {
		if err := cfg.MergeFile(path); err != nil {
			log.Printf("config: ignoring %s: %v", path, err)
		}
	}
	return cfg
}

// MergeFile overlays the non-zero fields of a YAML file onto c.
func (c *Config) MergeFile(path string) error {
	raw, err := os.ReadFile(path)
	if err != nil {
		return err
	}
	var file Config
	if err := yaml.Unmarshal(raw, &file); err != nil {
		return fmt.Errorf("parse %s: %w", path, err)
	}
	c.merge(file)
	return nil
}

func (c *Config) merge(o Config) {
	str := func(dst *string, v string) {
		if v != "" {
			*dst = v
		}
	}
	str(&c.HTTPAddress, o.HTTPAddress)
	str(&c.LogLevel, o.LogLevel)
	str(&c.LogFormat, o.LogFormat)
	str(&c.GatewayToken, o.GatewayToken)
	str(&c.LiveKitURL, o.LiveKitURL)
	str(&c.LiveKitAPIKey, o.LiveKitAPIKey)
	str(&c.LiveKitAPISecret, o.LiveKitAPISecret)
	str(&c.AgentIdentity, o.AgentIdentity)
	str(&c.Recognizer, o.Recognizer)
	str(&c.DeepgramKey, o.DeepgramKey)
	str(&c.DeepgramModel, o.DeepgramModel)
	str(&c.AssemblyAIKey, o.AssemblyAIKey)
	str(&c.LLMKey, o.LLMKey)
	str(&c.LLMBaseURL, o.LLMBaseURL)
	str(&c.LLMModel, o.LLMModel)
	str(&c.Synthesizer, o.Synthesizer)
	str(&c.ElevenLabsKey, o.ElevenLabsKey)
	str(&c.ElevenLabsModel, o.ElevenLabsModel)
	str(&c.DeepgramTTSModel, o.DeepgramTTSModel)
	str(&c.Decoder, o.Decoder)
	str(&c.FFmpegPath, o.FFmpegPath)
	str(&c.SupabaseURL, o.SupabaseURL)
	str(&c.SupabaseServiceRoleKey, o.SupabaseServiceRoleKey)
	if o.LLMMaxTokens > 0 {
		c.LLMMaxTokens = o.LLMMaxTokens
	}
	if o.ElevenLabsLatency > 0 {
		c.ElevenLabsLatency = o.ElevenLabsLatency
	}
	if o.WarmUp > 0 {
		c.WarmUp = o.WarmUp
	}
	if o.ConnectTimeout > 0 {
		c.ConnectTimeout = o.ConnectTimeout
	}
	if o.SummaryInterval > 0 {
		c.SummaryInterval = o.SummaryInterval
	}
	if o.InterimTranscripts {
		c.InterimTranscripts = true
	}
}

// Validate returns the names of required settings that are missing.
func (c Config) Validate() []string {
	var missing []string
	need := func(name, v string) {
		if v == "" {
			missing = append(missing, name)
		}
	}
	need("LIVEKIT_URL", c.LiveKitURL)
	need("LIVEKIT_API_KEY", c.LiveKitAPIKey)
	need("LIVEKIT_API_SECRET", c.LiveKitAPISecret)
	need("SUPABASE_URL", c.SupabaseURL)
	need("SUPABASE_SERVICE_ROLE_KEY", c.SupabaseServiceRoleKey)
	need("GROQ_API_KEY", c.LLMKey)
	switch c.Recognizer {
	case "assemblyai":
		need("ASSEMBLYAI_API_KEY", c.AssemblyAIKey)
	default:
		need("DEEPGRAM_API_KEY", c.DeepgramKey)
	}
	switch c.Synthesizer {
	case "deepgram":
		need("DEEPGRAM_API_KEY", c.DeepgramKey)
	default:
		need("ELEVENLABS_API_KEY", c.ElevenLabsKey)
	}
	return missing
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

func getEnvInt(key string, defaultValue int) int {
	v, err := strconv.Atoi(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

func getEnvBool(key string, defaultValue bool) bool {
	v, err := strconv.ParseBool(os.Getenv(key))
	if err != nil {
		return defaultValue
	}
	return v
}

// getEnvDuration accepts Go durations ("1500ms") or bare milliseconds ("1500").
func getEnvDuration(key string, defaultValue time.Duration) time.Duration {
	raw := os.Getenv(key)
	if raw == "" {
		return defaultValue
	}
	if d, err := time.ParseDuration(raw); err == nil {
		return d
	}
	if ms, err := strconv.Atoi(raw); err == nil {
		return time.Duration(ms) * time.Millisecond
	}
	return defaultValue
}

func firstNonEmpty(vals ...string) string {
	for _, v := range vals {
		if v != "" {
			return v
		}
	}
	return ""
}
