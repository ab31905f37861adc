package main

import (
	"github.com/spf13/cobra"

	"github.com/example/vision-demo/internal/demo"
	"github.com/example/vision-demo/internal/logging"
)

var feedbackCmd = &cobra.Command{
	Use:   "feedback",
	Short: "Send feedback about a demo",
	RunE: func(cmd *cobra.Command, args []string) error {
		cfg, err := loadConfig(cmd)
		if err != nil {
			return err
		}
		verbose, _ := cmd.Flags().GetBool("verbose")
		logger, err := logging.NewDevelopmentLogger(verbose)
		if err != nil {
			return err
		}
		defer logger.Sync() //nolint:errcheck

		rawType, _ := cmd.Flags().GetString("type")
		demoType, err := demo.ParseDemoType(rawType)
		if err != nil {
			return err
		}
		record := demo.FeedbackRecord{DemoType: demoType}
		record.Message, _ = cmd.Flags().GetString("message")
		record.Rating, _ = cmd.Flags().GetInt("rating")
		record.Name, _ = cmd.Flags().GetString("name")
		record.Email, _ = cmd.Flags().GetString("email")

		a, err := newApp(cmd.Context(), cfg, logger)
		if err != nil {
			return err
		}
		defer a.close()

		if err := a.client.SubmitFeedback(cmd.Context(), record); err != nil {
			return err
		}
		cmd.Println("feedback sent")
		return nil
	},
}

func init() {
	rootCmd.AddCommand(feedbackCmd)

	feedbackCmd.Flags().StringP("type", "t", "", "Demo type the feedback is about")
	feedbackCmd.Flags().StringP("message", "m", "", "Feedback text")
	feedbackCmd.Flags().IntP("rating", "r", 0, "Rating from 1 to 5, 0 for none")
	feedbackCmd.Flags().String("name", "", "Your name")
	feedbackCmd.Flags().String("email", "", "Contact email")
	_ = feedbackCmd.MarkFlagRequired("type")
	_ = feedbackCmd.MarkFlagRequired("message")
}
