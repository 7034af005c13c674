/*
Copyright © 2020 NAME HERE <EMAIL ADDRESS>

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package cmd

import (
	"fmt"
	"io"
	"os"

	"github.com/notargets/gohpfem/InputParameters"
	"github.com/notargets/gohpfem/model_problems/Reaction2D"
	"github.com/notargets/gohpfem/telemetry"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

type Model2D struct {
	ICFile       string
	MetricsFile  string
	PerfCounters bool
}

// TwoDCmd represents the 2D command
var TwoDCmd = &cobra.Command{
	Use:   "2D",
	Short: "Two dimensional nonlinear reaction problem, steady, transient or adaptive",
	Long:  `Two dimensional nonlinear reaction problem, steady, transient or adaptive`,
	RunE: func(cmd *cobra.Command, args []string) (err error) {
		var (
			ip *InputParameters.InputParameters2D
		)
		m2d := &Model2D{
			MetricsFile:  viper.GetString("metricsFile"),
			PerfCounters: viper.GetBool("perfCounters"),
		}
		if m2d.ICFile, err = cmd.Flags().GetString("inputConditionsFile"); err != nil {
			return
		}
		if ip, err = processInput(m2d, cmd.OutOrStdout()); err != nil {
			return
		}
		return Run2D(m2d, ip, cmd.OutOrStdout())
	},
}

const exampleFile = `
########################################
Title: "Reaction front"
Mode: adaptive # steady, transient or adaptive
Domain: [0, 1, 0, 1]
NX: 4
NY: 4
PolynomialOrder: 2
Kappa: 1
Steepness: 20
FinalTime: 1   # transient only
TimeStep: 0.1  # transient only
Newton:
  MaxIterations: 100
  Tolerance: 1e-8
  ReuseStructure: true
LinearSolver:
  Type: direct # direct, lu or iterative
Adapt:
  ErrStop: 1   # percent
  CandList: hp_aniso
  Stopping: single_element
  Threshold: 0.3
########################################
`

func processInput(m2d *Model2D, w io.Writer) (ip *InputParameters.InputParameters2D, err error) {
	if len(m2d.ICFile) == 0 {
		err = fmt.Errorf("must supply an input parameters file (-I, --inputConditionsFile) in YAML format")
		fmt.Fprintf(w, "error: %s\n", err.Error())
		fmt.Fprintf(w, "Example File:%s\n", exampleFile)
		return
	}
	var data []byte
	if data, err = os.ReadFile(m2d.ICFile); err != nil {
		return
	}
	ip = InputParameters.NewInputParameters2D()
	if err = ip.Parse(data); err != nil {
		return nil, fmt.Errorf("%s: %w", m2d.ICFile, err)
	}
	if err = ip.Validate(); err != nil {
		return nil, fmt.Errorf("%s: %w", m2d.ICFile, err)
	}
	return
}

func init() {
	rootCmd.AddCommand(TwoDCmd)
	TwoDCmd.Flags().StringP("inputConditionsFile", "I", "", "YAML file for input parameters like:\n\t- Mode\n\t- PolynomialOrder\n\t- Adapt.ErrStop")
}

func Run2D(m2d *Model2D, ip *InputParameters.InputParameters2D, w io.Writer) (err error) {
	var (
		metrics = telemetry.New(prometheus.Labels{"run": runID})
		s       *Reaction2D.Summary
	)
	ip.Print()
	r, err := Reaction2D.NewReaction2D(ip, logger, metrics)
	if err != nil {
		return
	}
	run := func() (err error) {
		s, err = r.Run()
		return
	}
	if m2d.PerfCounters {
		err = withPerfCounters(run, w)
	} else {
		err = run()
	}
	if s != nil {
		s.Print(w)
	}
	if len(m2d.MetricsFile) != 0 {
		if merr := metrics.WriteTextfile(m2d.MetricsFile); merr != nil && err == nil {
			err = merr
		}
	}
	return
}
