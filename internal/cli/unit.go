package cli

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/ppiankov/novaledger/internal/config"
	"github.com/ppiankov/novaledger/internal/database"
	"github.com/ppiankov/novaledger/internal/systemd"
)

// unitPath is checked by serve for post-install modification.
var unitPath = systemd.DefaultUnitPath

var (
	unitInstall bool
	unitBinary  string
	unitDataDir string
	unitUser    string
)

func init() {
	rootCmd.AddCommand(unitCmd)
	unitCmd.Flags().BoolVar(&unitInstall, "install", false, "Write the unit to "+systemd.DefaultUnitPath+" and record its hash")
	unitCmd.Flags().StringVar(&unitBinary, "binary", "", "Path to the novaledger binary (default: this executable)")
	unitCmd.Flags().StringVar(&unitDataDir, "data-dir", "", "Writable data directory (default: directory of the sqlite database)")
	unitCmd.Flags().StringVar(&unitUser, "user", "", "Run the service as this user")
}

var unitCmd = &cobra.Command{
	Use:   "unit",
	Short: "Print or install a systemd unit for `novaledger serve`",
	Long: "Prints a hardened novaledger.service unit. With --install the unit is written and its\n" +
		"SHA-256 recorded; `novaledger serve` warns if the unit is modified afterwards.",
	RunE: runUnit,
}

func runUnit(cmd *cobra.Command, args []string) error {
	if err := requireLocal("unit"); err != nil {
		return err
	}

	binary := unitBinary
	if binary == "" {
		exe, err := os.Executable()
		if err != nil {
			return fmt.Errorf("cannot locate executable, pass --binary: %w", err)
		}
		binary = exe
	}
	cfgPath := configPath
	if cfgPath == "" {
		cfgPath = config.DefaultPath()
	}
	if abs, err := filepath.Abs(cfgPath); err == nil {
		cfgPath = abs
	}
	dataDir := unitDataDir
	if dataDir == "" {
		dataDir = config.DefaultDir()
		if appCfg.Database.Driver == "" || appCfg.Database.Driver == database.DriverSQLite {
			dataDir = filepath.Dir(appCfg.Database.Path)
		}
	}

	unit, err := systemd.ServiceUnit(systemd.UnitOptions{
		Binary:     binary,
		ConfigPath: cfgPath,
		DataDir:    dataDir,
		User:       unitUser,
	})
	if err != nil {
		return err
	}

	if !unitInstall {
		fmt.Fprint(stdout, unit)
		return nil
	}
	if err := systemd.Install(unitPath, unit); err != nil {
		return err
	}
	logger.Info("systemd unit installed", "component", "cli", "path", unitPath)
	fmt.Fprintf(stdout, "Installed %s\n", unitPath)
	fmt.Fprintln(stdout, "Run: systemctl daemon-reload && systemctl enable --now novaledger")
	return nil
}
