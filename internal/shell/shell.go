// internal/shell/shell.go
package shell

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"go.uber.org/zap"

	"usis-service/internal/model"
	"usis-service/internal/service"
)

const (
	Intro  = "Welcome to UVEX control system.\nType help or ? to list commands"
	Prompt = "\n> "
)

// PortLister enumerates serial ports for the ports command
type PortLister interface {
	ListPorts(ctx context.Context) ([]model.SerialPort, error)
}

type command struct {
	help string
	run  func(ctx context.Context, args []string) (quit bool)
}

// Shell is the interactive operator console
type Shell struct {
	commands *service.CommandService
	ports    PortLister
	link     io.Closer
	in       *bufio.Scanner
	out      io.Writer
	logger   *zap.Logger
	table    map[string]command
}

// New creates a shell reading lines from in and writing to out. ports and link may be nil.
func New(
	commands *service.CommandService,
	ports PortLister,
	link io.Closer,
	in io.Reader,
	out io.Writer,
	logger *zap.Logger,
) *Shell {
	if logger == nil {
		logger = zap.NewNop()
	}

	s := &Shell{
		commands: commands,
		ports:    ports,
		link:     link,
		in:       bufio.NewScanner(in),
		out:      out,
		logger:   logger.With(zap.String("component", "shell")),
	}

	s.table = map[string]command{
		"version":    {help: "Returns the firmware and protocol (USIS) version", run: s.doVersion},
		"rawMessage": {help: "rawMessage <text> - to send a RAW message (with no formatting)", run: s.doRawMessage},
		"get":        {help: "get <property> <attribute> - reads an attribute", run: s.doGet},
		"set":        {help: "set <property> <attribute> <value> - writes an attribute", run: s.doSet},
		"info":       {help: "Lists the device properties and their attributes", run: s.doInfo},
		"ports":      {help: "Lists the serial ports of this computer", run: s.doPorts},
		"bye":        {help: "bye - to quit the shelter control program.", run: s.doBye},
	}
	return s
}

// Run prints the intro and processes commands until bye, end of input, or
// cancellation of ctx.
func (s *Shell) Run(ctx context.Context) error {
	s.println(Intro)

	for {
		if err := ctx.Err(); err != nil {
			return err
		}

		fmt.Fprint(s.out, Prompt)
		if !s.in.Scan() {
			if err := s.in.Err(); err != nil {
				return fmt.Errorf("failed to read command: %w", err)
			}
			s.doBye(ctx, nil)
			return nil
		}

		if quit := s.Exec(ctx, s.in.Text()); quit {
			return nil
		}
	}
}

// Exec runs one command line and reports whether the shell should stop
func (s *Shell) Exec(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	if line == "" {
		return false
	}

	name, rest, _ := strings.Cut(line, " ")
	if strings.HasPrefix(line, "?") {
		name, rest = "help", strings.TrimSpace(line[1:])
	}

	if name == "help" {
		s.help(strings.TrimSpace(rest))
		return false
	}

	cmd, ok := s.table[name]
	if !ok {
		s.println("*** Unknown syntax: " + line)
		return false
	}

	s.logger.Debug("Shell command", zap.String("command", name))
	return cmd.run(ctx, strings.Fields(rest))
}

func (s *Shell) help(topic string) {
	if topic != "" {
		if cmd, ok := s.table[topic]; ok {
			s.println(cmd.help)
			return
		}
		s.println("*** No help on " + topic)
		return
	}

	names := make([]string, 0, len(s.table)+1)
	for name := range s.table {
		names = append(names, name)
	}
	names = append(names, "help")
	sort.Strings(names)

	s.println("\nDocumented commands (type help <topic>):")
	s.println(strings.Repeat("=", 40))
	s.println(strings.Join(names, "  "))
}

func (s *Shell) doVersion(ctx context.Context, args []string) bool {
	if len(args) != 0 {
		s.println("Requires no argument")
		return false
	}

	result, err := s.commands.Version(ctx)
	if err != nil {
		s.println(err.Error())
		return false
	}

	fmt.Fprintf(s.out, "Order sent: %s... reply: %d  - %s\nMessage returned: %s\n",
		result.Frame, int(result.Code), result.Description, returned(result))
	return false
}

func (s *Shell) doRawMessage(ctx context.Context, args []string) bool {
	if len(args) != 1 {
		s.println("Requires exactly 1 argument. Ex : rawMessage GET;VERSION;VALUE")
		return false
	}

	text := args[0] + "\n"
	fmt.Fprintf(s.out, "Send the message: %s\n", text)

	result, err := s.commands.Execute(ctx, &service.CommandRequest{Text: text, Raw: true})
	if err != nil {
		s.println(err.Error())
		return false
	}

	fmt.Fprintf(s.out, "Order sent: %s... reply: %d - %s\n... Message returned: %s\n",
		result.Frame, int(result.Code), result.Description, returned(result))
	return false
}

func (s *Shell) doGet(ctx context.Context, args []string) bool {
	if len(args) != 2 {
		s.println("Requires exactly 2 arguments. Ex : get VERSION VALUE")
		return false
	}

	result, err := s.commands.Get(ctx, args[0], args[1])
	s.printValue(result, err)
	return false
}

func (s *Shell) doSet(ctx context.Context, args []string) bool {
	if len(args) != 3 {
		s.println("Requires exactly 3 arguments. Ex : set LED POWER 50")
		return false
	}

	result, err := s.commands.Set(ctx, args[0], args[1], args[2])
	s.printValue(result, err)
	return false
}

func (s *Shell) doInfo(ctx context.Context, args []string) bool {
	if len(args) != 0 {
		s.println("Requires no argument")
		return false
	}

	properties, err := s.commands.Describe(ctx)
	if err != nil {
		var cmdErr *service.CommandError
		if errors.As(err, &cmdErr) {
			fmt.Fprintf(s.out, "Order sent: %s... reply: %d - %s\n",
				cmdErr.Result.Frame, int(cmdErr.Result.Code), cmdErr.Result.Description)
			return false
		}
		s.println(err.Error())
		return false
	}

	fmt.Fprintf(s.out, "%d properties\n", len(properties))
	for _, p := range properties {
		fmt.Fprintf(s.out, "%d : %s [%s]\n", p.Index, p.Name, strings.Join(p.Attributes, ", "))
	}
	return false
}

func (s *Shell) doPorts(ctx context.Context, args []string) bool {
	if s.ports == nil {
		s.println("Port enumeration is not available")
		return false
	}

	ports, err := s.ports.ListPorts(ctx)
	if err != nil {
		s.println("No USB port is available")
		return false
	}
	PrintPorts(s.out, ports)
	return false
}

func (s *Shell) doBye(ctx context.Context, args []string) bool {
	if s.link != nil {
		if err := s.link.Close(); err != nil {
			s.logger.Warn("Failed to close serial link", zap.Error(err))
		}
	}
	s.println("End of the script.\nGood bye!")
	return true
}

func (s *Shell) printValue(result *service.ExecutionResult, err error) {
	if err != nil {
		s.println(err.Error())
		return
	}

	fmt.Fprintf(s.out, "Order sent: %s... reply: %d - %s\n",
		strings.TrimRight(result.Frame, "\n"), int(result.Code), result.Description)
	if result.OK() {
		fmt.Fprintf(s.out, "Value: %s\n", result.Value())
	} else if result.DeviceError != nil {
		fmt.Fprintf(s.out, "Device error: %s - %s\n", result.DeviceError.Code, result.DeviceError.Description)
	}
}

func (s *Shell) println(text string) {
	fmt.Fprintln(s.out, text)
}

// PrintPorts renders the numbered port menu
func PrintPorts(out io.Writer, ports []model.SerialPort) {
	fmt.Fprintln(out, "Here is the list of the available USB ports on your computer")
	for i, p := range ports {
		fmt.Fprintf(out, "%d : %s\n", i+1, p.Label())
	}
}

// returned renders the reply line the way the console shows it, -1 when there was none
func returned(result *service.ExecutionResult) string {
	if result.Reply == "" {
		return "-1"
	}
	return strings.TrimRight(result.Reply, "\r\n")
}
