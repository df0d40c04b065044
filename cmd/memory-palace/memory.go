package main

import (
	"context"
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"
)

var memoryCmd = &cobra.Command{
	Use:   "memory",
	Short: "Create, read, update, delete and alias memories",
}

func init() {
	memoryCmd.AddCommand(memoryCreateCmd)
	memoryCmd.AddCommand(memoryReadCmd)
	memoryCmd.AddCommand(memoryUpdateCmd)
	memoryCmd.AddCommand(memoryDeleteCmd)
	memoryCmd.AddCommand(memoryAliasCmd)

	memoryCreateCmd.Flags().String("session", "", "Session ID proposing the write")
	memoryCreateCmd.Flags().String("parent", "", "Parent address, e.g. notes:// (required)")
	memoryCreateCmd.Flags().String("content", "", "Memory content (required)")
	memoryCreateCmd.Flags().String("title", "", "Leaf title, used to derive the address when not appending")
	memoryCreateCmd.Flags().Int("priority", 3, "Priority, 0 or more; lower values rank first")
	memoryCreateCmd.Flags().String("disclosure", "", "Disclosure tag, e.g. public or private")
	_ = memoryCreateCmd.MarkFlagRequired("parent")
	_ = memoryCreateCmd.MarkFlagRequired("content")

	memoryReadCmd.Flags().String("session", "", "Session ID, for read-through session log addresses")

	memoryUpdateCmd.Flags().String("session", "", "Session ID proposing the write")
	memoryUpdateCmd.Flags().String("old", "", "Exact text to replace (patch form)")
	memoryUpdateCmd.Flags().String("new", "", "Replacement text (patch form)")
	memoryUpdateCmd.Flags().String("append", "", "Text to append instead of patching")

	memoryAliasCmd.Flags().Int("priority", 3, "Priority to set on the target memory (0 leaves it unchanged)")
	memoryAliasCmd.Flags().String("disclosure", "", "Disclosure tag to set on the target memory (empty leaves it unchanged)")
}

var memoryCreateCmd = &cobra.Command{
	Use:   "create",
	Short: "Create a new memory (or append, if addressing an existing leaf)",
	Args:  cobra.NoArgs,
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		session, _ := cmd.Flags().GetString("session")
		parent, _ := cmd.Flags().GetString("parent")
		content, _ := cmd.Flags().GetString("content")
		title, _ := cmd.Flags().GetString("title")
		priority, _ := cmd.Flags().GetInt("priority")
		disclosure, _ := cmd.Flags().GetString("disclosure")

		out, err := c.CreateMemory(context.Background(), session, parent, content, priority, title, disclosure)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var memoryReadCmd = &cobra.Command{
	Use:   "read <address>",
	Short: "Read a memory by address",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		session, _ := cmd.Flags().GetString("session")
		out, err := c.ReadMemory(context.Background(), args[0], session)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var memoryUpdateCmd = &cobra.Command{
	Use:   "update <address>",
	Short: "Patch or append to an existing memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		session, _ := cmd.Flags().GetString("session")
		old, _ := cmd.Flags().GetString("old")
		newText, _ := cmd.Flags().GetString("new")
		appendText, _ := cmd.Flags().GetString("append")

		var (
			out interface{}
			err error
		)
		if appendText != "" {
			out, err = c.UpdateMemoryAppend(context.Background(), session, args[0], appendText)
		} else {
			out, err = c.UpdateMemoryPatch(context.Background(), session, args[0], old, newText)
		}
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var memoryDeleteCmd = &cobra.Command{
	Use:   "delete <address>",
	Short: "Delete a memory",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		session, _ := cmd.Flags().GetString("session")
		out, err := c.DeleteMemory(context.Background(), session, args[0])
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

var memoryAliasCmd = &cobra.Command{
	Use:   "alias <new-address> <target-address>",
	Short: "Point a new address at an existing memory",
	Args:  cobra.ExactArgs(2),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := newClient(cmd)
		priority, _ := cmd.Flags().GetInt("priority")
		disclosure, _ := cmd.Flags().GetString("disclosure")
		out, err := c.AddAlias(context.Background(), args[0], args[1], priority, disclosure)
		if err != nil {
			return err
		}
		return printJSON(out)
	},
}

func printJSON(v interface{}) error {
	enc, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(enc))
	return nil
}
