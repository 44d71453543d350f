// main.go - Admin control tool for repairpulse
package main

import (
	"context"
	"flag"
	"fmt"
	"log"
	"os"
	"os/signal"
	"sort"
	"syscall"
	"time"

	"repairpulse/internal"
	"repairpulse/internal/seeder"
)

const (
	defaultShutdownTimeout = 30 * time.Second
)

// Command defines the interface for all command implementations
type Command interface {
	// Name returns the command name
	Name() string
	// Description returns the command description
	Description() string
	// Execute runs the command with the given app and args
	Execute(ctx context.Context, app *internal.Application, args []string) error
}

// The set of available commands
var commands = []Command{
	&MigrateCommand{},
	&SeedCommand{},
	&StatusCommand{},
	&ReplayDeadLettersCommand{},
	&HelpCommand{},
}

func main() {
	flag.Parse()

	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM, syscall.SIGHUP)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	go func() {
		sig := <-sigChan
		log.Printf("Received signal: %v, initiating cleanup...", sig)
		cancel()
	}()

	cmdName, args := parseArgs()

	cmd := findCommand(cmdName)
	if cmd == nil {
		showUsageAndExit()
	}

	var app *internal.Application
	if _, isHelp := cmd.(*HelpCommand); !isHelp {
		var err error
		app, err = internal.NewApp()
		if err != nil {
			log.Printf("Warning: Failed to initialize app: %v", err)
			// Let the command handle this situation
		}
	}

	err := cmd.Execute(ctx, app, args)

	if app != nil {
		shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), defaultShutdownTimeout)
		if shutdownErr := app.Shutdown(shutdownCtx); shutdownErr != nil {
			log.Printf("Warning: Cleanup error: %v", shutdownErr)
		}
		shutdownCancel()
	}

	if err != nil {
		log.Fatalf("Command failed: %v", err)
	}
	log.Printf("Command %s completed successfully", cmd.Name())
}

// MigrateCommand runs database migrations
type MigrateCommand struct{}

func (c *MigrateCommand) Name() string        { return "migrate" }
func (c *MigrateCommand) Description() string { return "Runs database migrations" }

func (c *MigrateCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot run migrations")
	}

	log.Println("Running database migrations...")
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	log.Println("Migrations completed successfully")
	return nil
}

// SeedCommand populates the DB with demo bookings and traffic
type SeedCommand struct{}

func (c *SeedCommand) Name() string        { return "seed" }
func (c *SeedCommand) Description() string { return "Seeds the database with demo bookings and events" }

func (c *SeedCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	fs := flag.NewFlagSet("seed", flag.ContinueOnError)
	eventCount := fs.Int("events", 2000, "number of events to generate")
	bookingCount := fs.Int("bookings", 300, "number of bookings to generate")
	days := fs.Int("days", 90, "days of history to spread the data over")
	seed := fs.Uint64("seed", 0, "random seed (0 picks one)")
	if err := fs.Parse(args); err != nil {
		return err
	}

	if app == nil {
		return fmt.Errorf("unable to initialise app")
	}
	if err := app.DBManager.MigrateDatabase(); err != nil {
		return fmt.Errorf("migration failed: %w", err)
	}

	services := app.Services
	opts := []seeder.Option{
		seeder.WithEventCount(*eventCount),
		seeder.WithBookingCount(*bookingCount),
		seeder.WithDays(*days),
		seeder.WithAfterSeed(services.Revenue.InvalidateDashboard),
	}
	if *seed != 0 {
		opts = append(opts, seeder.WithRandSeed(*seed))
	}

	summary, err := seeder.NewSeeder(services.Pipeline, services.Bookings, services.Logger, opts...).Run(ctx)
	if err != nil {
		return err
	}

	log.Printf("Seeded %d customers, %d bookings, %d sessions, %d events (%d conversions, %d rejected)",
		summary.Customers, summary.Bookings, summary.Sessions, summary.Events, summary.Conversions, summary.Rejected)
	return nil
}

// StatusCommand implements a command to check the system status
type StatusCommand struct{}

func (c *StatusCommand) Name() string        { return "status" }
func (c *StatusCommand) Description() string { return "Shows the current system status" }

func (c *StatusCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("cannot check status: app initialization failed")
	}

	stored, err := app.Services.Events.Stats(ctx)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}
	bookings, err := app.Services.Bookings.Count(ctx)
	if err != nil {
		return fmt.Errorf("database error: %w", err)
	}

	log.Println("System Status:")
	log.Println("- Database: Connected")
	log.Printf("- Events: %d (%d awaiting aggregation)", stored.Events, stored.UnprocessedEvents)
	log.Printf("- Sessions: %d", stored.Sessions)
	log.Printf("- Aggregation marks: %d", stored.AggregationMarks)

	statuses := make([]string, 0, len(bookings))
	for status := range bookings {
		statuses = append(statuses, status)
	}
	sort.Strings(statuses)
	for _, status := range statuses {
		log.Printf("- Bookings %s: %d", status, bookings[status])
	}

	sqlDB, err := app.DBManager.GetConnection().DB()
	if err != nil {
		return fmt.Errorf("failed to get SQL DB: %w", err)
	}
	log.Printf("- Max Open Connections: %d", sqlDB.Stats().MaxOpenConnections)
	log.Printf("- Open Connections: %d", sqlDB.Stats().OpenConnections)

	return nil
}

// ReplayDeadLettersCommand pushes dead-lettered events back through the
// pipeline and flushes them.
type ReplayDeadLettersCommand struct{}

func (c *ReplayDeadLettersCommand) Name() string { return "replay-dead-letters" }
func (c *ReplayDeadLettersCommand) Description() string {
	return "Replays dead-lettered events into the store"
}

func (c *ReplayDeadLettersCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	if app == nil {
		return fmt.Errorf("app initialization failed, cannot replay dead letters")
	}

	p := app.Services.Pipeline
	replayed, err := p.ReplayDeadLetters(ctx)
	if err != nil {
		return err
	}
	log.Printf("Requeued %d dead letters", replayed)

	// Anything that still fails goes back to the dead letter file on shutdown.
	for p.QueueDepth() > 0 && ctx.Err() == nil {
		result := p.Flush(ctx)
		if result.Err != nil {
			return fmt.Errorf("flush failed: %w", result.Err)
		}
		if result.Dequeued == 0 && !result.Skipped {
			break
		}
	}
	return nil
}

// HelpCommand implements a command to show usage information
type HelpCommand struct{}

func (c *HelpCommand) Name() string        { return "help" }
func (c *HelpCommand) Description() string { return "Shows usage information" }

func (c *HelpCommand) Execute(ctx context.Context, app *internal.Application, args []string) error {
	printUsage()
	return nil
}

// parseArgs parses the command name and arguments
func parseArgs() (string, []string) {
	args := flag.Args()
	if len(args) == 0 {
		return "help", []string{}
	}
	return args[0], args[1:]
}

// findCommand finds a command by name
func findCommand(name string) Command {
	for _, cmd := range commands {
		if cmd.Name() == name {
			return cmd
		}
	}
	return nil
}

func printUsage() {
	fmt.Println("Usage: pulsectl [command] [args...]")
	fmt.Println("Available commands:")

	for _, cmd := range commands {
		fmt.Printf("  %s: %s\n", cmd.Name(), cmd.Description())
	}
}

// showUsageAndExit shows usage information and exits
func showUsageAndExit() {
	printUsage()
	os.Exit(1)
}
