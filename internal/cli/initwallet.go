package cli

import (
	"bufio"
	"fmt"
	"strings"

	"github.com/spf13/cobra"

	"github.com/mrz1836/hotvault/internal/mnemonic"
	vaulterr "github.com/mrz1836/hotvault/pkg/errors"
)

var initRestore bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Create or restore the master wallet",
	Long: `Creates the master wallet record and its first persisted state, and
prints the recovery phrase exactly once. The phrase is never written to
disk or to the log; if it is lost before being recorded, the wallet
cannot be recovered.

With --restore, the wallet is rebuilt from an existing recovery phrase
read from stdin instead.`,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, _ []string) error {
	secret, err := deploymentSecret()
	if err != nil {
		return err
	}
	defer zero(secret)

	comps, err := buildComponents(cfg, logger, secret)
	if err != nil {
		return err
	}

	if initRestore {
		return restoreWallet(cmd, comps)
	}

	phrase, err := comps.reg.CreateMasterWallet(cmd.Context())
	if err != nil {
		return describeInitError(err)
	}
	defer comps.reg.Close(cmd.Context())

	displayRecoveryPhrase(phrase, cmd)
	return nil
}

// restoreWallet reads a recovery phrase from stdin and rebuilds the
// master wallet from it. Misspelled words get corrections suggested
// before the phrase is rejected.
func restoreWallet(cmd *cobra.Command, comps *components) error {
	fmt.Fprint(cmd.ErrOrStderr(), "Enter recovery phrase: ")

	scanner := bufio.NewScanner(cmd.InOrStdin())
	if !scanner.Scan() {
		return vaulterr.WithDetails(vaulterr.ErrInvalidMnemonic,
			map[string]string{"reason": "no phrase entered"})
	}
	phrase := scanner.Text()

	if typos := mnemonic.DetectTypos(phrase); len(typos) > 0 {
		var hints []string
		for _, typo := range typos {
			if typo.Suggestion != "" {
				hints = append(hints, fmt.Sprintf("word %d %q: did you mean %q?",
					typo.Index+1, typo.Word, typo.Suggestion))
			} else {
				hints = append(hints, fmt.Sprintf("word %d %q is not a recovery word",
					typo.Index+1, typo.Word))
			}
		}
		return vaulterr.WithSuggestion(vaulterr.ErrInvalidMnemonic, strings.Join(hints, "; "))
	}

	if err := comps.reg.RestoreMasterWallet(cmd.Context(), phrase); err != nil {
		return describeInitError(err)
	}
	defer comps.reg.Close(cmd.Context())

	fmt.Fprintln(cmd.OutOrStdout(), "Master wallet restored; chain rescan in progress.")
	return nil
}

func describeInitError(err error) error {
	if vaulterr.Is(err, vaulterr.ErrWalletInfoExists) {
		return vaulterr.WithSuggestion(err,
			"a master wallet already exists; remove its record only if you are certain it is unrecoverable")
	}
	return err
}

// displayRecoveryPhrase shows the mnemonic phrase with formatting.
// Stdout only; the phrase must never reach the log file.
func displayRecoveryPhrase(phrase string, cmd *cobra.Command) {
	w := cmd.OutOrStdout()
	fmt.Fprintln(w)
	fmt.Fprintln(w, "===================================================================")
	fmt.Fprintln(w, "                    RECOVERY PHRASE")
	fmt.Fprintln(w, "===================================================================")
	fmt.Fprintln(w)
	fmt.Fprintln(w, "Write down these words in order and store them securely.")
	fmt.Fprintln(w, "This is the ONLY way to recover the master wallet.")
	fmt.Fprintln(w)

	words := strings.Fields(phrase)
	for i, word := range words {
		fmt.Fprintf(w, "%2d. %s\n", i+1, word)
	}

	fmt.Fprintln(w)
	fmt.Fprintln(w, "===================================================================")
	fmt.Fprintln(w)
}

//nolint:gochecknoinits // Cobra CLI pattern requires init for command registration
func init() {
	initCmd.Flags().BoolVar(&initRestore, "restore", false, "restore from an existing recovery phrase")
	rootCmd.AddCommand(initCmd)
}
