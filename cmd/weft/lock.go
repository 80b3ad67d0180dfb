package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/weft-dev/weft/internal/tui"
)

var (
	lockRecursive bool
	lockMode      string
	lockContextID string
)

var lockCmd = &cobra.Command{
	Use:   "lock <path>",
	Short: "Protect a file or folder from mutation",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := tui.NewClient(apiAddr)
		kind := "file"
		if lockRecursive {
			kind = "folder"
		}
		if err := client.AcquireLock(args[0], kind, lockMode, lockContextID, lockRecursive); err != nil {
			return err
		}
		fmt.Printf("locked %s (%s)\n", args[0], lockMode)
		return nil
	},
}

var unlockCmd = &cobra.Command{
	Use:   "unlock <path>",
	Short: "Release a lock",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		client := tui.NewClient(apiAddr)
		if err := client.ReleaseLock(args[0], lockContextID); err != nil {
			return err
		}
		fmt.Printf("unlocked %s\n", args[0])
		return nil
	},
}

var locksCmd = &cobra.Command{
	Use:   "locks",
	Short: "List active locks",
	RunE: func(cmd *cobra.Command, args []string) error {
		client := tui.NewClient(apiAddr)
		locks, err := client.ListLocks()
		if err != nil {
			return err
		}
		if len(locks) == 0 {
			fmt.Println("no locks")
			return nil
		}
		for _, l := range locks {
			flags := l.Mode
			if l.Recursive {
				flags += ",recursive"
			}
			if l.Inherited {
				flags += ",inherited"
			}
			owner := l.OwnerID
			if owner == "" {
				owner = "global"
			}
			fmt.Printf("%-6s %-40s %-30s %s\n", l.ScopeKind, l.Scope, flags, owner)
		}
		return nil
	},
}

func init() {
	lockCmd.Flags().BoolVarP(&lockRecursive, "recursive", "r", false, "Lock a folder and everything under it")
	lockCmd.Flags().StringVar(&lockMode, "mode", "full", "Lock mode: read-only, no-delete, or full")
	lockCmd.Flags().StringVar(&lockContextID, "context", "", "Scope the lock to one execution context")
	unlockCmd.Flags().StringVar(&lockContextID, "context", "", "Context that owns the lock")
}
