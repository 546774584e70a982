package main

import (
	"context"
	"encoding/base64"
	"flag"
	"os"
	"os/signal"
	"strconv"
	"syscall"

	"convoscript/core"
	"convoscript/factories"
	"convoscript/store"

	"github.com/joho/godotenv"
)

func main() {
	var consoleScript string
	flag.StringVar(&consoleScript, "console", "", "run the named script in the terminal instead of serving WebSocket clients")
	flag.Parse()

	if err := godotenv.Load(".env.local"); err != nil {
		core.GetLogger().With(map[string]any{"error": err}).Warn("No .env.local file found or failed to load")
	}
	core.SetLogger(*core.NewDevelopmentLogger(core.LevelFromEnv()))
	logger := core.GetLogger()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	settings, apiKeys := loadSettingsFromEnv()
	settings.Provider.InjectAPIKeys(apiKeys)
	if consoleScript != "" {
		settings.Transport = factories.TransportFactoryConfig{
			ConsoleConfig: &factories.ConsoleProviderConfig{Script: consoleScript},
		}
	}
	if ws := settings.Transport.WebSocketConfig; ws != nil {
		ws.Port = getEnvAsInt("PORT", ws.Port)
	}

	st := store.New(logger)
	scriptsPath := getEnv("SCRIPTS_PATH", settings.ScriptsPath)
	names, err := factories.LoadScriptsFile(st, scriptsPath)
	if err != nil {
		logger.With(map[string]any{"path": scriptsPath, "error": err}).Warn("failed to load scripts")
	} else {
		logger.With(map[string]any{"path": scriptsPath, "scripts": names}).Info("scripts loaded")
	}

	provider, err := factories.BuildProvider(settings.Provider, logger)
	if err != nil {
		logger.With(map[string]any{"error": err}).Error("failed to create capability provider")
		os.Exit(1)
	}
	token := getEnv("CONVOSCRIPT_API_TOKEN", settings.Provider.APIKey())
	if token == "" {
		logger.Error("no API token: set CONVOSCRIPT_API_TOKEN or the provider's API key")
		os.Exit(1)
	}

	transport, err := settings.Transport.GetTransport(settings.Runtime(st, provider, token, logger), logger)
	if err != nil {
		logger.With(map[string]any{"error": err}).Error("failed to create transport")
		os.Exit(1)
	}
	if err := transport.Serve(ctx); err != nil && ctx.Err() == nil {
		logger.With(map[string]any{"error": err}).Error("transport stopped")
		os.Exit(1)
	}
	logger.Info("Shutting down...")
}

// loadSettingsFromEnv loads SettingsConfig from file or SETTINGS_JSON_B64 env var, and API keys from env vars.
func loadSettingsFromEnv() (factories.SettingsConfig, factories.APIKeys) {
	var settings factories.SettingsConfig
	var err error

	if b64 := os.Getenv("SETTINGS_JSON_B64"); b64 != "" {
		data, decErr := base64.StdEncoding.DecodeString(b64)
		if decErr != nil {
			core.GetLogger().With(map[string]any{"error": decErr}).Error("failed to decode SETTINGS_JSON_B64")
			settings = factories.DefaultSettingsConfig()
		} else {
			settings, err = factories.SettingsConfigFromJSON(data)
			if err != nil {
				core.GetLogger().With(map[string]any{"error": err}).Error("failed to parse SETTINGS_JSON_B64")
				settings = factories.DefaultSettingsConfig()
			} else {
				core.GetLogger().Info("loaded settings from SETTINGS_JSON_B64")
			}
		}
	} else {
		settingsPath := getEnv("SETTINGS_PATH", "./settings.json")
		settings, err = factories.SettingsConfigFromFile(settingsPath)
		if err != nil {
			core.GetLogger().With(map[string]any{"path": settingsPath, "error": err}).Warn("failed to load settings, using defaults")
			settings = factories.DefaultSettingsConfig()
		}
	}
	settings.Interpreter.DelayMS = getEnvAsInt("INTERPRETER_DELAY_MS", settings.Interpreter.DelayMS)

	apiKeys := factories.APIKeys{
		Foundry:    getEnv("FOUNDRY_API_KEY", ""),
		OpenAI:     getEnv("OPENAI_API_KEY", ""),
		Together:   getEnv("TOGETHER_API_KEY", ""),
		Groq:       getEnv("GROQ_API_KEY", ""),
		DeepSeek:   getEnv("DEEPSEEK_API_KEY", ""),
		OpenRouter: getEnv("OPENROUTER_API_KEY", ""),
		Fireworks:  getEnv("FIREWORKS_API_KEY", ""),
		Cerebras:   getEnv("CEREBRAS_API_KEY", ""),
		XAI:        getEnv("XAI_API_KEY", ""),
		Mistral:    getEnv("MISTRAL_API_KEY", ""),
		Perplexity: getEnv("PERPLEXITY_API_KEY", ""),
	}

	return settings, apiKeys
}

// getEnv gets an environment variable with a default fallback
func getEnv(key, defaultValue string) string {
	if value := os.Getenv(key); value != "" {
		return value
	}
	return defaultValue
}

// getEnvAsInt gets an environment variable as integer with a default fallback
func getEnvAsInt(key string, defaultValue int) int {
	valStr := getEnv(key, "")
	if valStr == "" {
		return defaultValue
	}
	val, err := strconv.Atoi(valStr)
	if err != nil {
		return defaultValue
	}
	return val
}
