package main

import (
	stdjson "encoding/json"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/tef/peg"
	"github.com/tef/peg/calc"
	"github.com/tef/peg/json"
	"github.com/tef/peg/trace"
)

func asJson(data any) string {
	bz, err := stdjson.MarshalIndent(data, "", "  ")
	if err != nil {
		panic(err)
	}
	return string(bz)
}

// readInput returns the named file's contents, or stdin when no file is
// given.
func readInput(args []string) (string, string, error) {
	if len(args) > 0 {
		data, err := os.ReadFile(args[0])
		if err != nil {
			return "", "", err
		}
		return args[0], string(data), nil
	}
	data, err := io.ReadAll(os.Stdin)
	if err != nil {
		return "", "", err
	}
	return "<stdin>", string(data), nil
}

func traceControl(cmd *cobra.Command) (peg.Control, bool) {
	traceOn, _ := cmd.Flags().GetBool("trace")
	if !traceOn {
		return nil, false
	}
	omit, _ := cmd.Flags().GetStringSlice("trace-omit")
	return trace.New(logrus.StandardLogger()).Omit(omit...), true
}

func CmdJson() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "json [file]",
		Short: "Parse a JSON document and print the value its actions built",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, text, err := readInput(args)
			if err != nil {
				return err
			}
			var value any
			if ctl, ok := traceControl(cmd); ok {
				value, err = json.ParseWith(ctl, name, text)
			} else {
				value, err = json.Parse(name, text)
			}
			if err != nil {
				return err
			}
			fmt.Println(asJson(value))
			return nil
		},
	}
	return cmd
}

func CmdCalc() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "calc <expression>",
		Short: "Evaluate an arithmetic expression with decimal semantics",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			text := strings.Join(args, " ")
			var value decimal.Decimal
			var err error
			if ctl, ok := traceControl(cmd); ok {
				value, err = calc.EvalWith(ctl, "<args>", text)
			} else {
				value, err = calc.Eval(text)
			}
			if err != nil {
				return err
			}
			fmt.Println(value.String())
			return nil
		},
	}
	return cmd
}

func CmdCheck() *cobra.Command {
	cmd := &cobra.Command{
		Use:   "check <grammar> [file]",
		Short: "Check a document against one of the example grammars",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			name, text, err := readInput(args[1:])
			if err != nil {
				return err
			}
			ctl, traced := traceControl(cmd)
			switch args[0] {
			case "json":
				if traced {
					_, err = json.ParseWith(ctl, name, text)
				} else {
					_, err = json.Parse(name, text)
				}
			case "calc":
				if traced {
					_, err = calc.EvalWith(ctl, name, text)
				} else {
					_, err = calc.Eval(text)
				}
			default:
				return fmt.Errorf("unknown grammar %q (have: json, calc)", args[0])
			}
			if err != nil {
				return err
			}
			logrus.WithFields(logrus.Fields{
				"grammar": args[0],
				"input":   name,
			}).Info("ok")
			return nil
		},
	}
	return cmd
}
