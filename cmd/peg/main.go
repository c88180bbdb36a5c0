package main

import (
	"os"
	"strings"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

func configureLogger(level string, format string) {
	switch level {
	case "trace":
		logrus.SetLevel(logrus.TraceLevel)
	case "debug":
		logrus.SetLevel(logrus.DebugLevel)
	case "warn":
		logrus.SetLevel(logrus.WarnLevel)
	case "error":
		logrus.SetLevel(logrus.ErrorLevel)
	default:
		logrus.SetLevel(logrus.InfoLevel)
	}

	switch strings.ToLower(format) {
	case "json":
		logrus.SetFormatter(&logrus.JSONFormatter{})
	case "text":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: true,
		})
	case "color-text":
		logrus.SetFormatter(&logrus.TextFormatter{
			DisableColors: false,
			ForceColors:   true,
		})
	default:
		logrus.WithFields(logrus.Fields{
			"format":  format,
			"options": []string{"json", "text", "color-text"},
		}).Warn("unknown format")
	}
}

func CmdPeg() *cobra.Command {
	cmd := &cobra.Command{
		Use:          "peg",
		Short:        "Parse and check documents with the example peg grammars",
		SilenceUsage: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			level, _ := cmd.Flags().GetString("log-level")
			format, _ := cmd.Flags().GetString("log-format")
			traceOn, _ := cmd.Flags().GetBool("trace")
			if traceOn && level == "info" {
				level = "debug"
			}
			configureLogger(level, format)
			return nil
		},
	}
	cmd.PersistentFlags().String("log-level", "info", "log level (trace, debug, info, warn, error)")
	cmd.PersistentFlags().String("log-format", "text", "log format (json, text, color-text)")
	cmd.PersistentFlags().Bool("trace", false, "log every rule dispatch while parsing")
	cmd.PersistentFlags().StringSlice("trace-omit", nil, "rules to leave out of the trace")

	cmd.AddCommand(CmdJson())
	cmd.AddCommand(CmdCalc())
	cmd.AddCommand(CmdCheck())

	return cmd
}

func main() {
	rootCmd := CmdPeg()
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
