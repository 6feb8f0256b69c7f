package main

import (
	"context"
	"fmt"
	"os"
	"syscall"
	"time"

	"github.com/charmbracelet/lipgloss"
	"github.com/joho/godotenv"

	"github.com/brain-daemon/brain/pkg/config"
	"github.com/brain-daemon/brain/pkg/health"
	"github.com/brain-daemon/brain/pkg/store"
)

var (
	styleOK    = lipgloss.NewStyle().Foreground(lipgloss.Color("2")).Bold(true)
	styleFail  = lipgloss.NewStyle().Foreground(lipgloss.Color("3")).Bold(true)
	styleFatal = lipgloss.NewStyle().Foreground(lipgloss.Color("1")).Bold(true)
)

type daemonStopCmd struct {
	TimeoutSeconds int `help:"How long to wait for graceful exit before giving up." default:"15"`
}

func (c *daemonStopCmd) Run() error {
	_, pidPath, err := loadCLIConfig()
	if err != nil {
		return err
	}

	pid, alive, err := readPIDLock(pidPath)
	if err != nil {
		return fatalf(categoryPermanent, "", "no running daemon found (%v)", err)
	}
	if !alive {
		_ = os.Remove(pidPath)
		return fatalf(categoryPermanent, "", "daemon not running (stale pid file removed)")
	}

	process, err := os.FindProcess(pid)
	if err != nil {
		return wrapFatal(categoryResource, "", err, "find daemon process")
	}
	if err := process.Signal(syscall.SIGTERM); err != nil {
		return wrapFatal(categoryResource, "", err, fmt.Sprintf("signal pid %d", pid))
	}

	deadline := time.Now().Add(time.Duration(c.TimeoutSeconds) * time.Second)
	for time.Now().Before(deadline) {
		if _, alive, _ := readPIDLock(pidPath); !alive {
			fmt.Printf("daemon (pid %d) stopped\n", pid)
			return nil
		}
		time.Sleep(200 * time.Millisecond)
	}
	return fatalf(categoryTransient, "", "daemon (pid %d) did not exit within %ds", pid, c.TimeoutSeconds)
}

type daemonStatusCmd struct{}

func (c *daemonStatusCmd) Run() error {
	_, pidPath, err := loadCLIConfig()
	if err != nil {
		return err
	}

	pid, alive, err := readPIDLock(pidPath)
	if err != nil {
		fmt.Println("daemon not running")
		return nil
	}
	if alive {
		fmt.Printf("%s (pid %d)\n", styleOK.Render("daemon running"), pid)
	} else {
		fmt.Println(styleFail.Render("daemon not running (stale pid file)"))
	}
	return nil
}

type healthCmd struct{}

func (c *healthCmd) Run() error {
	cfg, _, err := loadCLIConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(store.Config{DataRoot: cfg.Store.DataRoot, EmbeddingDimensions: cfg.Embedding.Dimensions})
	if err != nil {
		return wrapFatal(categoryResource, "", err, "open store")
	}
	defer st.Close()

	runner := health.NewRunner(&cfg, st)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	checks := runner.Run(ctx)

	for _, chk := range checks {
		status := styleOK.Render("ok")
		if !chk.Passed {
			status = styleFail.Render("FAIL")
			if chk.Fatal {
				status = styleFatal.Render("FATAL")
			}
		}
		fmt.Printf("[%s] %-24s %s\n", status, chk.Name, chk.Message)
	}
	if health.Fatal(checks) {
		return fatalf(categoryResource, "", "one or more fatal checks failed")
	}
	return nil
}

type promptBumpCmd struct {
	Reason string `help:"Why this prompt version is being forced." required:""`
}

func (c *promptBumpCmd) Run() error {
	cfg, _, err := loadCLIConfig()
	if err != nil {
		return err
	}

	st, err := store.Open(store.Config{DataRoot: cfg.Store.DataRoot})
	if err != nil {
		return wrapFatal(categoryResource, "", err, "open store")
	}
	defer st.Close()

	content, err := os.ReadFile(cfg.Analyzer.PromptFile)
	if err != nil {
		return wrapFatal(categoryPermanent, "", err, "read prompt file")
	}
	forced := string(content) + "\n\nbump: " + c.Reason

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	pv, err := st.ResolvePromptVersion(ctx, forced, c.Reason)
	if err != nil {
		return wrapFatal(categoryResource, "", err, "resolve prompt version")
	}

	fmt.Printf("prompt bumped to version %s\n", pv.Label)
	return nil
}

// loadCLIConfig loads config the same way `daemon start` does (file +
// defaults + env overrides), for the commands that need to locate the
// pid file or store without starting the daemon itself.
func loadCLIConfig() (config.Config, string, error) {
	_ = godotenv.Load()
	cfg, err := config.Load(resolveConfigPath())
	if err != nil {
		return config.Config{}, "", wrapFatal(categoryPermanent, "", err, "load config")
	}
	cfg = applyEnvOverrides(cfg)
	return cfg, pidFilePath(cfg.Store.DataRoot), nil
}
