// cmd/usisctl/main.go
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/zap"

	"usis-service/internal/config"
	discovery "usis-service/internal/discovery/serial"
	"usis-service/internal/model"
	"usis-service/internal/protocol/serial"
	"usis-service/internal/repository"
	"usis-service/internal/service"
	"usis-service/internal/shell"
	"usis-service/internal/utils"
)

func main() {
	configPath := pflag.StringP("config", "c", "", "path to the configuration file")
	portName := pflag.StringP("port", "p", "", "serial port to open, skips the port menu")
	choice := pflag.Int("choice", 0, "1-based entry of the port menu to open")
	logLevel := pflag.String("log-level", "warn", "log level (debug, info, warn, error)")
	pflag.Parse()

	if err := run(*configPath, *portName, *choice, *logLevel); err != nil {
		fmt.Fprintf(os.Stderr, "usisctl: %v\n", err)
		os.Exit(1)
	}
}

func run(configPath, portName string, choice int, logLevel string) error {
	cfg, err := config.Load(configPath)
	if err != nil {
		return fmt.Errorf("failed to load configuration: %w", err)
	}

	// Logs go to stderr so they do not interleave with console output
	cfg.Logging.Format = "console"
	cfg.Logging.Output = "stderr"
	cfg.Logging.Level = logLevel

	logger, err := utils.NewLogger(&cfg.Logging)
	if err != nil {
		return fmt.Errorf("failed to initialize logger: %w", err)
	}
	defer utils.CloseLogger(logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	scanner := discovery.NewScanner(logger, &discovery.Config{
		PortPatterns: cfg.Discovery.PortPatterns,
		USBOnly:      cfg.Discovery.USBOnly,
	})
	ports := service.NewDiscoveryService(scanner, logger)

	in := bufio.NewReader(os.Stdin)
	out := os.Stdout

	sessionConfig := cfg.SessionConfig()
	if portName != "" {
		sessionConfig.Port = portName
	} else {
		port, ok := choosePort(ctx, ports, choice, in, out)
		if ok {
			sessionConfig.Port = port.Name
		}
	}

	session := openSession(sessionConfig, out, logger)

	commands := service.NewCommandService(
		session,
		repository.NewMemoryExchangeRepository(cfg.Journal.Capacity, logger),
		nil,
		&cfg.Protocol,
		logger,
	)

	// The shell blocks on stdin, so an interrupt closes the link and exits here
	done := make(chan struct{})
	defer close(done)
	go func() {
		select {
		case <-done:
		case <-ctx.Done():
			select {
			case <-done:
				return
			default:
			}
			session.Close()
			fmt.Fprintln(out, "\nInterrupted.")
			os.Exit(130)
		}
	}()

	return shell.New(commands, ports, session, in, out, logger).Run(ctx)
}

// choosePort shows the port menu and reads the operator's choice.
// A choice given on the command line skips the prompt.
func choosePort(ctx context.Context, ports *service.DiscoveryService, choice int, in *bufio.Reader, out io.Writer) (model.SerialPort, bool) {
	found, err := ports.ListPorts(ctx)
	if err != nil || len(found) == 0 {
		fmt.Fprintln(out, "No USB port is available")
		return model.SerialPort{}, false
	}

	shell.PrintPorts(out, found)

	if choice == 0 {
		choice = 1
		fmt.Fprintln(out, "Which USB port do you want to open (give the number)?")
		line, _ := in.ReadString('\n')
		if line = strings.TrimSpace(line); line != "" {
			n, err := strconv.Atoi(line)
			if err != nil {
				fmt.Fprintf(out, "%q is not a number\n", line)
				return model.SerialPort{}, false
			}
			choice = n
		}
	}

	port, err := service.SelectPort(found, choice)
	if err != nil {
		fmt.Fprintln(out, err.Error())
		return model.SerialPort{}, false
	}
	return port, true
}

func openSession(cfg *serial.Config, out io.Writer, logger *zap.Logger) *serial.Session {
	if cfg.Port == "" {
		return serial.Unavailable(cfg, logger)
	}

	fmt.Fprintln(out, "Opening port :"+cfg.Port)
	session, err := serial.Open(cfg, logger)
	if err != nil {
		fmt.Fprintln(out, "Unable to open the USB port.")
		return serial.Unavailable(cfg, logger)
	}

	fmt.Fprintln(out, "The USB port is open.")
	return session
}
