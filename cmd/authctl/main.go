package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"runtime/debug"
	"syscall"

	"github.com/common-nighthawk/go-figure"
	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"

	"github.com/atriumn/idynic-web-sub000/internal/config"
)

const usage = `usage: authctl <command> [args]

commands:
  login <username>              sign in, the password is read from stdin
  signup <email>                create an account, the password is read from stdin
  confirm <username> <code>     confirm a new account
  resend <username>             send a new confirmation code
  whoami                        restore the session and print the user
  refresh                       renew the session now
  logout                        end the session
  federated <provider>          sign in with google, apple or microsoft
  get <url>                     call a protected API with the session
  env                           list the supported environment variables
`

func main() {
	if err := run(os.Args[1:]); err != nil {
		log.Error().Err(err).Msg("authctl failed")
		os.Exit(1)
	}
}

func run(args []string) (returnError error) {
	defer func() {
		if r := recover(); r != nil {
			log.Error().Str("panic", fmt.Sprint(r)).Bytes("stack", debug.Stack()).Msg("recovered from panic")
			returnError = errors.New("panic recovered")
		}
	}()

	if len(args) == 0 {
		fmt.Fprint(os.Stderr, usage)
		return errors.New("no command given")
	}
	if args[0] == "env" {
		fmt.Println(config.Usage())
		return nil
	}

	c, err := config.New()
	if err != nil {
		return err
	}
	configureLogging(c)
	if c.GetEnv() == "DEV" {
		displayAppname(c.GetAppName())
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, c)
	if err != nil {
		return err
	}
	defer a.Close()

	return a.dispatch(ctx, args[0], args[1:])
}

func configureLogging(c config.EnvConfig) {
	level, err := zerolog.ParseLevel(c.GetLogLevel())
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)
	log.Logger = log.Output(zerolog.ConsoleWriter{Out: os.Stderr})
}

func displayAppname(appname string) {
	myFigure := figure.NewFigure(appname, "cybermedium", true)
	myFigure.Print()
	fmt.Println()
}
