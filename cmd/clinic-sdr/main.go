package main

import (
	"os"

	"github.com/spf13/cobra"
)

var configPath string

var rootCmd = &cobra.Command{
	Use:   "clinic-sdr",
	Short: "clinic-sdr - conversational appointment booking assistant",
}

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the chat API over HTTP",
	RunE:  runServe,
}

var chatCmd = &cobra.Command{
	Use:   "chat",
	Short: "Chat with the assistant from the terminal",
	RunE:  runChat,
}

var seedCmd = &cobra.Command{
	Use:   "seed",
	Short: "Create and seed the knowledge collection if it is missing",
	RunE:  runSeed,
}

var (
	addrFlag           string
	conversationIDFlag string
)

func init() {
	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Path to config file")
	serveCmd.Flags().StringVar(&addrFlag, "addr", "", "Listen address (overrides server.addr)")
	chatCmd.Flags().StringVar(&conversationIDFlag, "conversation", "", "Resume a conversation id")
	rootCmd.AddCommand(serveCmd, chatCmd, seedCmd)
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}
