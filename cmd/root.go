package cmd

import (
	"log"
	"time"

	"github.com/mitchellh/mapstructure"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const app = "screenvet"

// Config is the full configuration tree, decoded from screenvet.yaml.
type Config struct {
	Server   *ServerConfig   `mapstructure:"server"`
	Database *DatabaseConfig `mapstructure:"database"`
	Vetting  *VettingConfig  `mapstructure:"vetting"`
	AI       *AIConfig       `mapstructure:"ai"`
	Mail     *MailConfig     `mapstructure:"mail"`
	ATS      *ATSConfig      `mapstructure:"ats"`
}

type ServerConfig struct {
	Listen string `mapstructure:"listen"`
}

type DatabaseConfig struct {
	Path string `mapstructure:"path"`
}

type VettingConfig struct {
	Enabled               bool          `mapstructure:"enabled"`
	EnabledSince          time.Time     `mapstructure:"enabled-since"`
	MaxConcurrentSessions int           `mapstructure:"max-concurrent-sessions"`
	MaxTurns              int           `mapstructure:"max-turns"`
	FollowupHours         []int         `mapstructure:"followup-hours"`
	SweepInterval         time.Duration `mapstructure:"sweep-interval"`
	RescreenAfter         time.Duration `mapstructure:"rescreen-after"`
	OutreachStagger       time.Duration `mapstructure:"outreach-stagger"`
	FromName              string        `mapstructure:"from-name"`
	ReplyTo               string        `mapstructure:"reply-to"`
}

type AIConfig struct {
	Provider string        `mapstructure:"provider"`
	Gemini   *GeminiConfig `mapstructure:"gemini"`
}

type GeminiConfig struct {
	APIKeyFile   string `mapstructure:"api-key-file"`
	Model        string `mapstructure:"model"`
	MaxRetries   int    `mapstructure:"max-retries"`
	MaxLogLength int    `mapstructure:"max-log-length"`
}

type MailConfig struct {
	From         string `mapstructure:"from"`
	FromName     string `mapstructure:"from-name"`
	SMTPHost     string `mapstructure:"smtp-host"`
	SMTPPort     int    `mapstructure:"smtp-port"`
	SMTPUsername string `mapstructure:"smtp-username"`
	PasswordFile string `mapstructure:"smtp-password-file"`
}

type ATSConfig struct {
	BaseURL   string `mapstructure:"base-url"`
	TokenFile string `mapstructure:"token-file"`
	UserAgent string `mapstructure:"user-agent"`
}

var (
	// Used for flags.
	cfgFile string

	rootCmd = &cobra.Command{
		Use:   app,
		Short: "screenvet runs automated verification conversations with matched candidates",
	}
)

// Execute executes the root command.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	if err := viper.BindEnv("ai.gemini.api-key-file", "GEMINI_API_KEY_FILE"); err != nil {
		log.Fatalf("binding GEMINI_API_KEY_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("ats.token-file", "ATS_TOKEN_FILE"); err != nil {
		log.Fatalf("binding ATS_TOKEN_FILE environment variable: %v", err)
	}
	if err := viper.BindEnv("mail.smtp-password-file", "SMTP_PASSWORD_FILE"); err != nil {
		log.Fatalf("binding SMTP_PASSWORD_FILE environment variable: %v", err)
	}

	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "a config file (default is screenvet.yaml in current directory)")
	rootCmd.PersistentFlags().BoolP("debug", "d", false, "verbose/debug output")
	rootCmd.PersistentFlags().BoolP("json", "j", false, "json format for logging")

	viper.BindPFlag("debug", rootCmd.PersistentFlags().Lookup("debug"))
	viper.BindPFlag("json", rootCmd.PersistentFlags().Lookup("json"))
}

func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigName(app + ".yaml")
		viper.SetConfigType("yaml")
	}

	// We can't proceed if the config file parsed with error.
	if err := viper.ReadInConfig(); err != nil {
		log.Fatal(err)
	}
}

// getConfig decodes viper's settings into the typed tree. Durations and the
// cutoff timestamp arrive as strings and are converted by decode hooks.
func getConfig() (*Config, error) {
	var config Config

	decoder, err := mapstructure.NewDecoder(&mapstructure.DecoderConfig{
		DecodeHook: mapstructure.ComposeDecodeHookFunc(
			mapstructure.StringToTimeDurationHookFunc(),
			mapstructure.StringToTimeHookFunc(time.RFC3339),
		),
		Result:           &config,
		TagName:          "mapstructure",
		WeaklyTypedInput: true,
	})
	if err != nil {
		return nil, err
	}

	if err := decoder.Decode(viper.AllSettings()); err != nil {
		return nil, err
	}

	return &config, nil
}
