package logsvc

import (
	"log"
	"strings"

	"github.com/rollbar/rollbar-go"
	"github.com/rollbar/rollbar-go/errors"

	"github.com/trezcool/masomo-portal/core"
	"github.com/trezcool/masomo-portal/core/user"
)

// RollbarLogger prints to a std logger and reports to Rollbar (when enabled).
// Args may be an error, a map[string]interface{} of extras and the request user.User.
type RollbarLogger struct {
	std *log.Logger
}

var _ core.Logger = (*RollbarLogger)(nil)

func NewRollbarLogger(std *log.Logger, conf *core.Config) *RollbarLogger {
	rollbar.SetToken(conf.RollbarToken)
	rollbar.SetEnvironment(conf.Env)
	rollbar.SetServerHost(conf.Server.Host)
	rollbar.SetCodeVersion(conf.Build)
	rollbar.SetStackTracer(errors.StackTracer)
	rollbar.SetEnabled(conf.RollbarToken != "" && !conf.TestMode)
	return &RollbarLogger{std: std}
}

func (l RollbarLogger) Enable(enabled bool) {
	rollbar.SetEnabled(enabled)
}

// Close waits for queued reports to be sent.
func (l RollbarLogger) Close() {
	rollbar.Close()
}

func (l RollbarLogger) Debug(msg string, args ...interface{}) { l.log("DEBUG", rollbar.Debug, msg, args) }
func (l RollbarLogger) Info(msg string, args ...interface{})  { l.log("INFO", rollbar.Info, msg, args) }
func (l RollbarLogger) Warn(msg string, args ...interface{})  { l.log("WARN", rollbar.Warning, msg, args) }
func (l RollbarLogger) Error(msg string, args ...interface{}) { l.log("ERROR", rollbar.Error, msg, args) }

func (l RollbarLogger) Fatal(msg string, args ...interface{}) {
	l.log("FATAL", rollbar.Critical, msg, args)
	rollbar.Wait()
	l.std.Fatal(msg)
}

// log reports msg with the remaining args. Only the first user.User becomes the Rollbar person.
func (l RollbarLogger) log(level string, report func(...interface{}), msg string, args []interface{}) {
	var (
		person *user.User
		extras = make([]interface{}, 0, len(args))
	)
	for _, arg := range args {
		if usr, ok := arg.(user.User); ok {
			if person == nil {
				person = &usr
			}
			continue
		}
		extras = append(extras, arg)
	}

	if person != nil {
		rollbar.SetPerson(person.ID, person.Username, person.Email)
	} else {
		rollbar.ClearPerson()
	}
	report(append([]interface{}{msg}, extras...)...)

	var line strings.Builder
	line.WriteString("[" + level + "] " + msg)
	if person != nil {
		line.WriteString(" (user: " + person.ID + ")")
	}
	l.std.Println(line.String())
	for _, extra := range extras {
		l.std.Printf("%+v\n", extra)
	}
}
