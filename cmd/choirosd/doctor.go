package main

import (
	"fmt"
	"os"
	"os/exec"

	"github.com/spf13/cobra"

	"github.com/choiros/choiros/internal/config"
	"github.com/choiros/choiros/internal/eventstore"
)

// buildDoctorCmd creates the "doctor" command: a preflight check over the
// things choirosd needs before serve will work, grounded on the teacher's
// commands_doctor.go buildDoctorCmd (--repair/--probe/--audit flags) but
// narrowed to the checks §4.10's ambient stack actually needs: database
// reachability, model credentials, and sandbox backend availability.
func buildDoctorCmd() *cobra.Command {
	var configPath string
	var repair bool

	cmd := &cobra.Command{
		Use:   "doctor",
		Short: "Run environment preflight checks",
		RunE: func(cmd *cobra.Command, args []string) error {
			return runDoctor(cmd, configPath, repair)
		},
	}
	cmd.Flags().StringVarP(&configPath, "config", "c", "choiros.yaml", "Path to YAML configuration file")
	cmd.Flags().BoolVar(&repair, "repair", false, "Attempt to fix problems found (e.g. create missing directories)")
	return cmd
}

func runDoctor(cmd *cobra.Command, configPath string, repair bool) error {
	out := cmd.OutOrStdout()
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	var failures []string

	if err := checkDatabase(cfg.Database.Path); err != nil {
		failures = append(failures, fmt.Sprintf("database: %v", err))
	} else {
		fmt.Fprintf(out, "ok   database reachable at %s\n", cfg.Database.Path)
	}

	for _, dir := range []struct {
		name string
		path string
	}{
		{"documents.root", cfg.Documents.Root},
		{"workspace.root", cfg.Workspace.Root},
	} {
		if err := checkDirectory(dir.path, repair); err != nil {
			failures = append(failures, fmt.Sprintf("%s: %v", dir.name, err))
		} else {
			fmt.Fprintf(out, "ok   %s at %s\n", dir.name, dir.path)
		}
	}

	sawConductor := false
	for _, b := range cfg.Models.Bindings {
		if b.Role == "conductor" {
			sawConductor = true
		}
		if b.APIKeyEnv == "" {
			continue
		}
		if os.Getenv(b.APIKeyEnv) == "" {
			failures = append(failures, fmt.Sprintf("model binding %q: $%s is not set", b.Role, b.APIKeyEnv))
		} else {
			fmt.Fprintf(out, "ok   model binding %q has credential $%s\n", b.Role, b.APIKeyEnv)
		}
	}
	if !sawConductor {
		failures = append(failures, "no \"conductor\" role binding configured")
	}

	if err := checkSandbox(cfg.Sandbox.Backend); err != nil {
		failures = append(failures, fmt.Sprintf("sandbox: %v", err))
	} else {
		fmt.Fprintf(out, "ok   sandbox backend %q available\n", cfg.Sandbox.Backend)
	}

	if len(failures) > 0 {
		fmt.Fprintln(out, "\nproblems found:")
		for _, f := range failures {
			fmt.Fprintf(out, "  - %s\n", f)
		}
		return fmt.Errorf("doctor found %d problem(s)", len(failures))
	}

	fmt.Fprintln(out, "\nall checks passed")
	return nil
}

func checkDatabase(path string) error {
	store, err := eventstore.Open(path)
	if err != nil {
		return err
	}
	return store.Close()
}

func checkDirectory(path string, repair bool) error {
	info, err := os.Stat(path)
	if err == nil {
		if !info.IsDir() {
			return fmt.Errorf("%s exists and is not a directory", path)
		}
		return nil
	}
	if !os.IsNotExist(err) {
		return err
	}
	if !repair {
		return fmt.Errorf("%s does not exist (rerun with --repair to create it)", path)
	}
	return os.MkdirAll(path, 0o755)
}

func checkSandbox(backend string) error {
	switch backend {
	case "local-pty":
		return nil
	case "docker":
		if _, err := exec.LookPath("docker"); err != nil {
			return fmt.Errorf("docker binary not found on PATH")
		}
		return nil
	default:
		return fmt.Errorf("unknown sandbox backend %q", backend)
	}
}
