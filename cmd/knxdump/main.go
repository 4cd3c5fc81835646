// Copyright 2024 knxsuite. All rights reserved.
// Use of this source code is governed by Apache v2 license
// license that can be found in the LICENSE file.

package main

import (
	"bytes"
	"encoding/json"
	"fmt"
	"log"
	"os"

	knxparser "github.com/knxsuite/knxproj"
	"github.com/spf13/cobra"
)

var (
	password string
	language string
	info     bool
	devices  bool
	topology bool
	all      bool
)

func prettyPrint(buff []byte) string {
	var prettyJSON bytes.Buffer
	err := json.Indent(&prettyJSON, buff, "", "\t")
	if err != nil {
		log.Println("JSON parse error: ", err)
		return string(buff)
	}

	return prettyJSON.String()
}

func parseProject(filename string, cmd *cobra.Command) {
	log.Printf("Processing filename %s", filename)

	proj, err := knxparser.New(filename, &knxparser.Options{
		Password: password,
		Language: language,
	})
	if err != nil {
		log.Printf("Error while opening file: %s, reason: %s", filename, err)
		return
	}
	defer proj.Close()

	if err = proj.Parse(); err != nil {
		log.Printf("Error while parsing file: %s, reason: %s", filename, err)
		return
	}

	wantInfo, _ := cmd.Flags().GetBool("info")
	if wantInfo {
		out, _ := json.Marshal(proj.Document.Info)
		fmt.Println(prettyPrint(out))
	}

	wantDevices, _ := cmd.Flags().GetBool("devices")
	if wantDevices {
		out, _ := json.Marshal(proj.Document.Devices)
		fmt.Println(prettyPrint(out))
	}

	wantTopology, _ := cmd.Flags().GetBool("topology")
	if wantTopology {
		out, _ := json.Marshal(proj.Document.Topology)
		fmt.Println(prettyPrint(out))
	}

	wantAll, _ := cmd.Flags().GetBool("all")
	if wantAll || (!wantInfo && !wantDevices && !wantTopology) {
		out, _ := json.Marshal(proj.Document)
		fmt.Println(prettyPrint(out))
	}
}

func main() {

	var rootCmd = &cobra.Command{
		Use:   "knxdump",
		Short: "An ETS .knxproj file parser",
		Long:  "Parses ETS 4/5/6 project archives and dumps the resolved project as JSON",
		Run: func(cmd *cobra.Command, args []string) {
		},
	}

	var versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print version number",
		Long:  "Print version number",
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Printf("You are using version %s\n", knxparser.Version)
		},
	}

	var dumpCmd = &cobra.Command{
		Use:   "dump",
		Short: "Dumps the project",
		Long:  "Dumps the resolved structure of an ETS project archive",
		Args:  cobra.MinimumNArgs(1),
		Run: func(cmd *cobra.Command, args []string) {
			for _, filename := range args {
				parseProject(filename, cmd)
			}
		},
	}

	// Init root command.
	rootCmd.AddCommand(versionCmd)
	rootCmd.AddCommand(dumpCmd)

	// Init flags
	rootCmd.PersistentFlags().StringVarP(&password, "password", "p", "", "Password of a protected project")
	rootCmd.PersistentFlags().StringVarP(&language, "language", "l", "", "Preferred language for texts")
	dumpCmd.Flags().BoolVarP(&info, "info", "", false, "Dump project information")
	dumpCmd.Flags().BoolVarP(&devices, "devices", "", false, "Dump devices")
	dumpCmd.Flags().BoolVarP(&topology, "topology", "", false, "Dump topology")
	dumpCmd.Flags().BoolVarP(&all, "all", "", false, "Dump everything")

	if err := rootCmd.Execute(); err != nil {
		fmt.Println(err)
		os.Exit(1)
	}

}
