package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"maps"
	"os"
	"path/filepath"
	"slices"
	"strings"

	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/gyaanguru/tutor/internal/attachment"
	"github.com/gyaanguru/tutor/internal/domain"
	"github.com/gyaanguru/tutor/internal/profile"
)

const quitCommand = "/quit"

func newChatCmd(opts *rootOptions) *cobra.Command {
	var subject, topic string
	var attach []string

	cmd := &cobra.Command{
		Use:   "chat",
		Short: "Start an interactive tutoring session",
		RunE: func(cmd *cobra.Command, _ []string) error {
			ctx := cmd.Context()
			a, err := loadApp(ctx, opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			mgr, cleanup, err := a.sessionManager(ctx)
			if err != nil {
				return err
			}
			defer cleanup()

			s := mgr.Create(ctx, a.account)
			if err := s.SelectSubject(subject); err != nil {
				return err
			}
			if p := s.Profile(); len(p.Subjects) > 0 && !p.HasSubject(subject) {
				_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "note: %s is not one of your onboarding subjects\n", subject)
			}
			if topic != "" {
				if err := s.SelectTopic(topic); err != nil {
					return err
				}
			}
			if len(attach) > 0 {
				if err := attachFiles(ctx, cmd, a, s.ID(), attach, s.Attach); err != nil {
					return err
				}
			}

			welcome, err := s.Start()
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			_, _ = fmt.Fprintf(out, "tutor> %s\n\n", welcome.Body)

			scanner := bufio.NewScanner(cmd.InOrStdin())
			for {
				_, _ = fmt.Fprint(out, "you> ")
				if !scanner.Scan() {
					break
				}
				line := strings.TrimSpace(scanner.Text())
				if line == quitCommand {
					break
				}
				if _, err := s.Send(line); err != nil {
					_, _ = fmt.Fprintf(out, "(%v)\n", err)
					continue
				}
				if err := s.WaitIdle(ctx); err != nil {
					return err
				}
				transcript := s.Transcript()
				_, _ = fmt.Fprintf(out, "tutor> %s\n\n", transcript[len(transcript)-1].Body)
			}
			_, _ = fmt.Fprintf(out, "\nsession %s saved\n", s.ID())
			return scanner.Err()
		},
	}
	cmd.Flags().StringVar(&subject, "subject", "", "subject to study (required)")
	cmd.Flags().StringVar(&topic, "topic", "", "topic within the subject")
	cmd.Flags().StringSliceVar(&attach, "attach", nil, "study material files to upload")
	_ = cmd.MarkFlagRequired("subject")
	return cmd
}

func attachFiles(ctx context.Context, cmd *cobra.Command, a *app, sessionID string, paths []string, add func(...domain.Attachment) error) error {
	uploads, err := a.uploads()
	if err != nil {
		return err
	}

	files := make([]attachment.RawFile, 0, len(paths))
	for _, p := range paths {
		f, err := os.Open(p)
		if err != nil {
			return fmt.Errorf("open %s: %w", p, err)
		}
		defer func() { _ = f.Close() }()
		files = append(files, attachment.RawFile{Name: filepath.Base(p), Body: f})
	}

	results := uploads.StoreBatch(ctx, sessionID, files)
	for _, res := range results {
		if res.Err != nil {
			_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "skipped: %v\n", res.Err)
		}
	}
	if err := add(attachment.Succeeded(results)...); err != nil {
		uploads.Discard(ctx, results)
		return err
	}
	return nil
}

func newProfileCmd(opts *rootOptions) *cobra.Command {
	profileCmd := &cobra.Command{Use: "profile", Short: "Show or edit the learner profile"}

	profileCmd.AddCommand(&cobra.Command{
		Use:   "show",
		Short: "Print the learner profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			p, err := a.profiles.Load(cmd.Context(), a.account)
			if errors.Is(err, profile.ErrNotFound) {
				_, _ = fmt.Fprintln(cmd.OutOrStdout(), "no profile yet; run `tutor profile set`")
				return nil
			}
			if err != nil {
				return err
			}
			enc := yaml.NewEncoder(cmd.OutOrStdout())
			defer func() { _ = enc.Close() }()
			return enc.Encode(p)
		},
	})

	var name, grade, language, style, study, goals string
	var age int
	var subjects []string
	set := &cobra.Command{
		Use:   "set",
		Short: "Create or update the learner profile",
		RunE: func(cmd *cobra.Command, _ []string) error {
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()

			p, err := a.profiles.Load(cmd.Context(), a.account)
			if errors.Is(err, profile.ErrNotFound) {
				p = domain.DefaultProfile(a.account)
			} else if err != nil {
				return err
			}

			flags := cmd.Flags()
			if flags.Changed("name") {
				p.Name = name
			}
			if flags.Changed("grade") {
				p.Grade = grade
			}
			if flags.Changed("age") {
				p.Age = age
			}
			if flags.Changed("language") {
				p.PreferredLanguage = language
			}
			if flags.Changed("style") {
				p.TeachingStyle = domain.TeachingStyle(style)
			}
			if flags.Changed("subjects") {
				p.Subjects = subjects
			}
			if flags.Changed("study-time") {
				p.DailyStudyTime = study
			}
			if flags.Changed("goals") {
				p.Goals = goals
			}

			err = a.profiles.Save(cmd.Context(), &p)
			var fe profile.FieldErrors
			if errors.As(err, &fe) {
				for _, field := range slices.Sorted(maps.Keys(fe)) {
					_, _ = fmt.Fprintf(cmd.ErrOrStderr(), "%s: %s\n", field, fe[field])
				}
				return errors.New("profile not saved")
			}
			if err != nil {
				return err
			}
			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "saved profile for %s\n", p.Name)
			return nil
		},
	}
	set.Flags().StringVar(&name, "name", "", "learner name")
	set.Flags().StringVar(&grade, "grade", "", "class, 1 to 12")
	set.Flags().IntVar(&age, "age", 0, "age in years")
	set.Flags().StringVar(&language, "language", "", "preferred language")
	set.Flags().StringVar(&style, "style", "", "teaching style, e.g. \"patient and slow\"")
	set.Flags().StringSliceVar(&subjects, "subjects", nil, "subjects to study")
	set.Flags().StringVar(&study, "study-time", "", "daily study time")
	set.Flags().StringVar(&goals, "goals", "", "learning goals")
	profileCmd.AddCommand(set)

	return profileCmd
}

func newHistoryCmd(opts *rootOptions) *cobra.Command {
	var limit int

	cmd := &cobra.Command{
		Use:   "history [session-id]",
		Short: "List past sessions or print one transcript",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			a, err := loadApp(cmd.Context(), opts, cmd.ErrOrStderr())
			if err != nil {
				return err
			}
			defer func() { _ = a.Close() }()
			out := cmd.OutOrStdout()

			if len(args) == 1 {
				hist, err := a.repo.GetSessionHistory(cmd.Context(), args[0])
				if err != nil {
					return err
				}
				if hist == nil || hist.AccountID != a.account {
					return fmt.Errorf("session %s not found", args[0])
				}
				_, _ = fmt.Fprintf(out, "%s %s (%s)\n", hist.Subject, hist.Topic, hist.Phase)
				for _, att := range hist.Attachments {
					kind := "file"
					if att.IsImage() {
						kind = "image"
					}
					_, _ = fmt.Fprintf(out, "  [%s] %s %s\n", kind, att.DisplayName, att.RetrievalLocation)
				}
				for _, m := range hist.Messages {
					_, _ = fmt.Fprintf(out, "%s> %s\n", m.Speaker, m.Body)
				}
				return nil
			}

			sessions, err := a.repo.ListSessions(cmd.Context(), a.account, limit)
			if err != nil {
				return err
			}
			if len(sessions) == 0 {
				_, _ = fmt.Fprintln(out, "no sessions")
				return nil
			}
			for _, s := range sessions {
				_, _ = fmt.Fprintf(out, "%s  %s  %-16s %-20s %d messages\n",
					s.SessionID, s.CreatedAt.Format("2006-01-02 15:04"), s.Subject, s.Topic, s.MessageCount)
			}
			return nil
		},
	}
	cmd.Flags().IntVar(&limit, "limit", 20, "number of sessions to list")
	return cmd
}
