package config

import (
	"log"
	"os"

	"github.com/joho/godotenv"
)

// Config holds application configuration. Provider keys may be empty; the
// affected feature degrades with a warning instead of failing startup.
type Config struct {
	HTTPAddress    string
	BaseURL        string
	AuthPassword   string
	ICEServersJSON string

	AssemblyAIKey string

	CerebrasKey     string
	CerebrasModelID string

	DeepgramKey   string
	DeepgramModel string

	ElevenLabsKey     string
	ElevenLabsVoiceID string

	TwilioAccountSID  string
	TwilioAuthToken   string
	DestinationNumber string

	SupabaseURL            string
	SupabaseServiceRoleKey string
	SupabaseBucket         string
}

// Load reads environment variables and returns Config with sane defaults.
func Load() Config {
	if err := godotenv.Load(); err != nil {
		log.Println("No .env file found")
	}

	cfg := Config{
		HTTPAddress:    getEnv("HTTP_ADDRESS", ":8080"),
		BaseURL:        os.Getenv("BASE_URL"),
		AuthPassword:   os.Getenv("AUTH_PASSWORD"),
		ICEServersJSON: getEnv("ICE_SERVERS_JSON", `[{"urls":["stun:stun.l.google.com:19302"]}]`),

		AssemblyAIKey: os.Getenv("ASSEMBLYAI_API_KEY"),

		CerebrasKey:     os.Getenv("CEREBRAS_API_KEY"),
		CerebrasModelID: getEnv("CEREBRAS_MODEL_ID", "llama-4-maverick-17b-128e-instruct"),

		DeepgramKey:   os.Getenv("DEEPGRAM_API_KEY"),
		DeepgramModel: getEnv("DEEPGRAM_MODEL", "aura-2-thalia-en"),

		ElevenLabsKey:     os.Getenv("ELEVENLABS_API_KEY"),
		ElevenLabsVoiceID: os.Getenv("ELEVENLABS_VOICE_ID"),

		TwilioAccountSID:  os.Getenv("TWILIO_ACCOUNT_SID"),
		TwilioAuthToken:   os.Getenv("TWILIO_AUTH_TOKEN"),
		DestinationNumber: os.Getenv("DESTINATION_NUMBER"),

		SupabaseURL:            os.Getenv("SUPABASE_URL"),
		SupabaseServiceRoleKey: os.Getenv("SUPABASE_SERVICE_ROLE_KEY"),
		SupabaseBucket:         getEnv("SUPABASE_BUCKET", "voice-sessions"),
	}

	if cfg.AssemblyAIKey == "" {
		log.Println("Warning: ASSEMBLYAI_API_KEY not set - transcription will not work")
	}
	if cfg.CerebrasKey == "" {
		log.Println("Warning: CEREBRAS_API_KEY not set - LLM will not work")
	}
	if cfg.DeepgramKey == "" && cfg.ElevenLabsKey == "" {
		log.Println("Warning: no DEEPGRAM_API_KEY or ELEVENLABS_API_KEY - TTS will not work")
	}
	if cfg.SupabaseURL == "" || cfg.SupabaseServiceRoleKey == "" {
		log.Println("Warning: Supabase not configured - session persistence disabled")
	}

	log.Printf("config: HTTP_ADDRESS=%s", cfg.HTTPAddress)
	return cfg
}

func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}
