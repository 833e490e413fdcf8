package main

import (
	"fmt"
	"strconv"
	"strings"

	"github.com/fatih/color"
	"github.com/spf13/cobra"

	"github.com/ShayCichocki/relay/internal/activity"
	"github.com/ShayCichocki/relay/pkg/models"
)

var modelsCmd = &cobra.Command{
	Use:   "models",
	Short: "Manage the model registry",
	Long: `List and edit the registry of models available for selection.

Selection takes the first model, in registry order, that satisfies the
request, so the order of the list is the preference order.`,
	RunE: runModelsList,
}

var modelsListCmd = &cobra.Command{
	Use:   "list",
	Short: "List registered models in preference order",
	RunE:  runModelsList,
}

var (
	addSpeed     string
	addCost      string
	addContext   string
	addReasoning string
	addTags      []string
)

var modelsAddCmd = &cobra.Command{
	Use:   "add <model-id>",
	Short: "Add a model, or replace the profile of an existing one",
	Long: `Add a model with a capability profile. If the ID already exists its
profile is replaced in place and it keeps its position.

Examples:
  relay models add my-model --speed fast --cost low --context long --reasoning advanced
  relay models add vision-model --tag vision --tag max_images=4`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		extra, err := parseTags(addTags)
		if err != nil {
			return err
		}
		caps := models.Capabilities{
			Speed:         models.Speed(addSpeed),
			Cost:          models.Cost(addCost),
			ContextLength: models.ContextLength(addContext),
			Reasoning:     models.Reasoning(addReasoning),
			Extra:         extra,
		}
		return withApp(func(a *app) error {
			if err := a.registry.Add(args[0], caps); err != nil {
				return err
			}
			registryChanged(a, "add", map[string]any{"model": args[0]})
			printStatus("✓", fmt.Sprintf("Registered %s", args[0]), color.FgGreen)
			return nil
		})
	},
}

var modelsRemoveCmd = &cobra.Command{
	Use:   "remove <model-id>",
	Short: "Remove a model",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.registry.Remove(args[0]); err != nil {
				return err
			}
			registryChanged(a, "remove", map[string]any{"model": args[0]})
			printStatus("✓", fmt.Sprintf("Removed %s", args[0]), color.FgGreen)
			return nil
		})
	},
}

var modelsReplaceCmd = &cobra.Command{
	Use:   "replace <model-id>...",
	Short: "Replace the whole registry with these IDs",
	Long: `Replace every model with the given IDs, in order. Each gets a flat
medium profile; use 'relay models add' afterwards to refine them.`,
	Args: cobra.MinimumNArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.registry.ReplaceAll(args); err != nil {
				return err
			}
			registryChanged(a, "replace", map[string]any{"models": args})
			printStatus("✓", fmt.Sprintf("Registry replaced with %d model(s)", len(args)), color.FgGreen)
			return nil
		})
	},
}

var modelsResetCmd = &cobra.Command{
	Use:   "reset",
	Short: "Restore the built-in registry",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if err := a.registry.Reset(); err != nil {
				return err
			}
			registryChanged(a, "reset", nil)
			printStatus("✓", "Registry reset to defaults", color.FgGreen)
			return nil
		})
	},
}

var modelsNoteCmd = &cobra.Command{
	Use:   "note [text...]",
	Short: "Show or set the registry preference note",
	RunE: func(cmd *cobra.Command, args []string) error {
		return withApp(func(a *app) error {
			if len(args) == 0 {
				note, err := a.registry.PreferenceNote()
				if err != nil {
					return err
				}
				if note == "" {
					note = "(none)"
				}
				fmt.Println(note)
				return nil
			}
			note := strings.Join(args, " ")
			if err := a.registry.SetPreferenceNote(note); err != nil {
				return err
			}
			registryChanged(a, "note", map[string]any{"note": note})
			printStatus("✓", "Preference note saved", color.FgGreen)
			return nil
		})
	},
}

func init() {
	modelsAddCmd.Flags().StringVar(&addSpeed, "speed", string(models.SpeedMedium), "very_fast, fast, medium or slow")
	modelsAddCmd.Flags().StringVar(&addCost, "cost", string(models.CostMedium), "very_low, low, medium or high")
	modelsAddCmd.Flags().StringVar(&addContext, "context", string(models.ContextMedium), "short, medium or long")
	modelsAddCmd.Flags().StringVar(&addReasoning, "reasoning", string(models.ReasoningMedium), "basic, medium, advanced or complex")
	modelsAddCmd.Flags().StringSliceVar(&addTags, "tag", nil, "Extra capability tag, as name or name=value")

	modelsCmd.AddCommand(modelsListCmd)
	modelsCmd.AddCommand(modelsAddCmd)
	modelsCmd.AddCommand(modelsRemoveCmd)
	modelsCmd.AddCommand(modelsReplaceCmd)
	modelsCmd.AddCommand(modelsResetCmd)
	modelsCmd.AddCommand(modelsNoteCmd)
}

func runModelsList(cmd *cobra.Command, args []string) error {
	return withApp(func(a *app) error {
		list, err := a.registry.List()
		if err != nil {
			return err
		}
		if jsonOutput {
			return printJSON(list)
		}
		for i, m := range list {
			fmt.Printf("%d. %s\n   speed=%s cost=%s context=%s reasoning=%s",
				i+1, color.New(color.Bold).Sprint(m.ID), m.Speed, m.Cost, m.ContextLength, m.Reasoning)
			for k, v := range m.Extra {
				fmt.Printf(" %s=%v", k, v)
			}
			fmt.Println()
		}
		if note, err := a.registry.PreferenceNote(); err == nil && note != "" {
			fmt.Printf("\nNote: %s\n", note)
		}
		return nil
	})
}

// parseTags turns "name" and "name=value" flags into capability extras.
// Values parse as bool or number where they can.
func parseTags(tags []string) (map[string]any, error) {
	if len(tags) == 0 {
		return nil, nil
	}
	extra := make(map[string]any, len(tags))
	for _, tag := range tags {
		name, value, hasValue := strings.Cut(tag, "=")
		name = strings.TrimSpace(name)
		if name == "" {
			return nil, fmt.Errorf("invalid tag %q: empty name", tag)
		}
		if !hasValue {
			extra[name] = true
			continue
		}
		value = strings.TrimSpace(value)
		if b, err := strconv.ParseBool(value); err == nil {
			extra[name] = b
		} else if n, err := strconv.ParseFloat(value, 64); err == nil {
			extra[name] = n
		} else {
			extra[name] = value
		}
	}
	return extra, nil
}

func registryChanged(a *app, action string, details map[string]any) {
	if details == nil {
		details = map[string]any{}
	}
	details["action"] = action
	a.activity.Record(activity.Entry{Event: activity.EventRegistryChanged, Details: details})
}
