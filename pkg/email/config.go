package email

type Config struct {
	PostmarkServerToken  string `env:"POSTMARK_SERVER_TOKEN"`
	PostmarkAccountToken string `env:"POSTMARK_ACCOUNT_TOKEN"`
	SenderEmail          string `env:"SENDER_EMAIL" envDefault:"billing@equilibra.app"`
	SupportEmail         string `env:"SUPPORT_EMAIL" envDefault:"support@equilibra.app"`

	// DevDir receives rendered emails when no Postmark token is configured.
	DevDir string `env:"EMAIL_DEV_DIR" envDefault:"tmp/emails"`
}

// Enabled reports whether real delivery is configured.
func (c Config) Enabled() bool { return c.PostmarkServerToken != "" }
