package main

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"os"
	"strconv"
	"strings"

	"github.com/spf13/cobra"

	"github.com/getlost-engine/transync/i18n"
	"github.com/getlost-engine/transync/settings"
	"github.com/getlost-engine/transync/translate"
)

// ---------------------------------------------------------------------------
// auth (login / logout / list)
// ---------------------------------------------------------------------------

func newAuthCmd() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "auth",
		Short: "Manage provider API keys",
		Long: `Manage stored API keys for the AI providers.

Keys are looked up in this order: --api-key, the provider's environment
variable (OPENAI_API_KEY, GROQ_API_KEY, ...), ` + settings.GenericKeyEnv + `, then
the key stored by 'transync auth login'.

API key providers:
  openai        OpenAI
  openrouter    OpenRouter
  groq          Groq Cloud (free tier available)
  google        Google AI Studio (Gemini API key)
  anthropic     Anthropic
  custom-openai Custom OpenAI-compatible endpoint

No auth required:
  ollama        Local Ollama server

Examples:
  transync auth login                       Interactive provider selection
  transync auth login --provider groq       Store a Groq API key
  transync auth logout --provider groq      Remove the Groq API key
  transync auth logout                      Remove all credentials
  transync auth list                        Show all stored credentials`,
	}

	cmd.AddCommand(
		newAuthLoginCmd(),
		newAuthLogoutCmd(),
		newAuthListCmd(),
	)

	return cmd
}

// authProviders is the ordered list of providers for the interactive menu.
var authProviders = []struct {
	id      string
	desc    string
	helpURL string
}{
	{translate.ProviderOpenAI, "GPT models", "https://platform.openai.com/api-keys"},
	{translate.ProviderOpenRouter, "multi-provider proxy", "https://openrouter.ai/keys"},
	{translate.ProviderGroq, "fast inference, free tier available", "https://console.groq.com/keys"},
	{translate.ProviderGoogle, "Gemini API key, free tier available", "https://aistudio.google.com/apikey"},
	{translate.ProviderAnthropic, "Claude models", "https://console.anthropic.com/settings/keys"},
	{translate.ProviderCustomOpenAI, "any OpenAI-compatible endpoint", ""},
}

func providerName(id string) string {
	if p, ok := translate.DefaultProviders()[id]; ok {
		return p.Name
	}
	return id
}

func isAuthProvider(id string) bool {
	for _, p := range authProviders {
		if p.id == id {
			return true
		}
	}
	return false
}

func completeAuthProviders(cmd *cobra.Command, args []string, toComplete string) ([]string, cobra.ShellCompDirective) {
	completions := make([]string, 0, len(authProviders))
	for _, p := range authProviders {
		completions = append(completions, fmt.Sprintf("%s\t%s", p.id, providerName(p.id)))
	}
	return completions, cobra.ShellCompDirectiveNoFileComp
}

func newAuthLoginCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "login",
		Short: "Store an API key for a provider",
		RunE: func(cmd *cobra.Command, args []string) error {
			in := bufio.NewScanner(cmd.InOrStdin())
			if provider == "" {
				id, err := chooseProvider(in)
				if err != nil {
					return err
				}
				provider = id
			}
			switch {
			case provider == translate.ProviderOllama:
				logInfo("%s", i18n.T("Ollama needs no authentication"))
				return nil
			case provider == translate.ProviderCustomOpenAI:
				return authLoginCustomOpenAI(in)
			case isAuthProvider(provider):
				return authLoginAPIKey(in, provider)
			}
			return fmt.Errorf(i18n.T("unknown provider '%s'; run 'transync auth login' for options"), provider)
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to authenticate")
	_ = cmd.RegisterFlagCompletionFunc("provider", completeAuthProviders)
	return cmd
}

func chooseProvider(in *bufio.Scanner) (string, error) {
	fmt.Fprintf(os.Stderr, "\n%s\n\n", blue(i18n.T("Select provider to authenticate:")))
	for i, p := range authProviders {
		fmt.Fprintf(os.Stderr, "  %d) %s %s\n", i+1, yellow(fmt.Sprintf("%-14s", p.id)), p.desc)
	}
	fmt.Fprintf(os.Stderr, "\n  %s", i18n.T("Enter number: "))

	line, err := readLine(in)
	if err != nil {
		return "", err
	}
	n, err := strconv.Atoi(line)
	if err != nil || n < 1 || n > len(authProviders) {
		return "", errors.New(i18n.T("invalid choice; use: transync auth login --provider PROVIDER"))
	}
	return authProviders[n-1].id, nil
}

func readLine(in *bufio.Scanner) (string, error) {
	if !in.Scan() {
		if err := in.Err(); err != nil {
			return "", err
		}
		return "", io.ErrUnexpectedEOF
	}
	return strings.TrimSpace(in.Text()), nil
}

func authLoginAPIKey(in *bufio.Scanner, providerID string) error {
	name := providerName(providerID)
	fmt.Fprintf(os.Stderr, "\n%s\n", blue(name+": "+i18n.T("API Key Setup")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintln(os.Stderr)

	for _, p := range authProviders {
		if p.id == providerID && p.helpURL != "" {
			fmt.Fprintf(os.Stderr, "  %s %s\n\n", i18n.T("Get your API key from:"), green(p.helpURL))
		}
	}

	existing := settings.GetAPIKey(providerID)
	if existing != "" {
		fmt.Fprintf(os.Stderr, "  %s %s\n", i18n.T("Current key:"), yellow(settings.MaskKey(existing)))
		fmt.Fprintf(os.Stderr, "  %s", i18n.T("Enter new key to replace, or press Enter to keep: "))
	} else {
		fmt.Fprintf(os.Stderr, "  %s", i18n.T("Enter API key: "))
	}

	key, err := readLine(in)
	if err != nil {
		return errors.New(i18n.T("no input received"))
	}
	if key == "" {
		if existing != "" {
			logInfo("%s", i18n.T("Keeping existing key"))
			return nil
		}
		return errors.New(i18n.T("no API key provided"))
	}

	if err := settings.SetAPIKey(providerID, key); err != nil {
		return fmt.Errorf(i18n.T("saving API key: %w"), err)
	}
	logSuccess(i18n.T("%s API key saved!"), name)
	fmt.Fprintf(os.Stderr, "\n  %s transync translate --provider %s\n\n", i18n.T("You can now use:"), providerID)
	return nil
}

func authLoginCustomOpenAI(in *bufio.Scanner) error {
	fmt.Fprintf(os.Stderr, "\n%s\n", blue(i18n.T("Custom OpenAI-Compatible Endpoint")))
	fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))
	fmt.Fprintln(os.Stderr)

	existing := settings.Get(translate.ProviderCustomOpenAI)
	if existing != nil && existing.BaseURL != "" {
		fmt.Fprintf(os.Stderr, "  %s %s\n", i18n.T("Current endpoint:"), yellow(existing.BaseURL))
		fmt.Fprintf(os.Stderr, "  %s", i18n.T("Enter new endpoint URL, or press Enter to keep: "))
	} else {
		fmt.Fprintf(os.Stderr, "  %s", i18n.T("Enter endpoint URL (e.g., https://api.example.com/v1): "))
	}
	baseURL, err := readLine(in)
	if err != nil {
		return errors.New(i18n.T("no input received"))
	}
	if baseURL == "" && existing != nil {
		baseURL = existing.BaseURL
	}
	if baseURL == "" {
		return errors.New(i18n.T("endpoint URL is required"))
	}

	// Key is optional for self-hosted endpoints.
	if existing != nil && existing.Key != "" {
		fmt.Fprintf(os.Stderr, "  %s %s\n", i18n.T("Current key:"), yellow(settings.MaskKey(existing.Key)))
		fmt.Fprintf(os.Stderr, "  %s", i18n.T("Enter new API key, or press Enter to keep: "))
	} else {
		fmt.Fprintf(os.Stderr, "  %s", i18n.T("Enter API key (or press Enter if not required): "))
	}
	apiKey, err := readLine(in)
	if err != nil {
		return errors.New(i18n.T("no input received"))
	}
	if apiKey == "" && existing != nil {
		apiKey = existing.Key
	}

	if err := settings.SetAPIKeyWithBaseURL(translate.ProviderCustomOpenAI, apiKey, baseURL); err != nil {
		return fmt.Errorf(i18n.T("saving credentials: %w"), err)
	}
	logSuccess("%s", i18n.T("Custom OpenAI endpoint saved!"))
	fmt.Fprintf(os.Stderr, "\n  %s transync translate --provider custom-openai --model MODEL_NAME\n\n", i18n.T("You can now use:"))
	return nil
}

func newAuthLogoutCmd() *cobra.Command {
	var provider string

	cmd := &cobra.Command{
		Use:   "logout",
		Short: "Remove stored credentials",
		Long: `Remove stored credentials for one or all providers.

If --provider is not specified, credentials for ALL providers are removed.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			if provider == "" {
				if err := settings.RemoveAll(); err != nil {
					return err
				}
				logSuccess("%s", i18n.T("All stored credentials removed"))
				return nil
			}
			if !isAuthProvider(provider) {
				return fmt.Errorf(i18n.T("unknown provider '%s'; run 'transync auth list' to see providers"), provider)
			}
			if err := settings.Remove(provider); err != nil {
				return fmt.Errorf(i18n.T("removing %s credentials: %w"), provider, err)
			}
			logSuccess(i18n.T("%s credentials removed"), provider)
			return nil
		},
	}

	cmd.Flags().StringVar(&provider, "provider", "", "Provider to logout (default: all)")
	_ = cmd.RegisterFlagCompletionFunc("provider", completeAuthProviders)
	return cmd
}

func newAuthListCmd() *cobra.Command {
	return &cobra.Command{
		Use:     "list",
		Aliases: []string{"ls"},
		Short:   "Show stored credentials and status",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(os.Stderr, "\n%s\n", blue(i18n.T("Stored Credentials")))
			fmt.Fprintln(os.Stderr, strings.Repeat("─", 60))

			fmt.Fprintf(os.Stderr, "\n  %s\n", yellow(i18n.T("API Key Providers")))
			for _, p := range authProviders {
				entry := settings.Get(p.id)
				switch {
				case entry != nil && entry.Key != "":
					status := fmt.Sprintf("%s (key: %s)", green(i18n.T("configured")), settings.MaskKey(entry.Key))
					if entry.BaseURL != "" {
						status += fmt.Sprintf("\n  %14s endpoint: %s", "", entry.BaseURL)
					}
					fmt.Fprintf(os.Stderr, "  %-14s %s\n", p.id, status)
				case entry != nil && entry.BaseURL != "":
					fmt.Fprintf(os.Stderr, "  %-14s %s (no key)\n  %14s endpoint: %s\n", p.id, green(i18n.T("configured")), "", entry.BaseURL)
				default:
					fmt.Fprintf(os.Stderr, "  %-14s %s\n", p.id, red(i18n.T("not configured")))
				}
			}

			fmt.Fprintf(os.Stderr, "\n  %s\n", yellow(i18n.T("Environment Variables")))
			seen := make(map[string]bool)
			vars := []string{settings.GenericKeyEnv}
			for _, p := range authProviders {
				vars = append(vars, settings.EnvVarForProvider(p.id))
			}
			for _, name := range vars {
				if name == "" || seen[name] {
					continue
				}
				seen[name] = true
				if v := os.Getenv(name); v != "" {
					fmt.Fprintf(os.Stderr, "  %-20s %s\n", name+":", green(settings.MaskKey(v)))
				} else {
					fmt.Fprintf(os.Stderr, "  %-20s %s\n", name+":", red(i18n.T("not set")))
				}
			}
			fmt.Fprintln(os.Stderr)
		},
	}
}
