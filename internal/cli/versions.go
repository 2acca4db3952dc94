// Copyright (C) 2026 Noldarim
// SPDX-License-Identifier: AGPL-3.0-or-later

package cli

import (
	"flag"
	"fmt"
	"path/filepath"
	"strconv"

	"github.com/noldarim/weaver/internal/logger"
)

// versionsCommand lists the automatic per-transaction versions, or
// restores one by index: versions [restore <index>].
func versionsCommand(args []string) error {
	fs := flag.NewFlagSet("versions", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	st, err := openInspectionStore(*configPath)
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	rest := fs.Args()
	if len(rest) >= 2 && rest[0] == "restore" {
		index, err := strconv.Atoi(rest[1])
		if err != nil {
			st.Close()
			return fmt.Errorf("invalid version index %q", rest[1])
		}
		versions, err := st.Versions()
		if err != nil {
			st.Close()
			return err
		}
		if index < 0 || index >= len(versions) {
			st.Close()
			return fmt.Errorf("version index %d out of range (0..%d)", index, len(versions)-1)
		}
		// Restore closes the original store and hands back a fresh one.
		restored, err := versions[index].Restore()
		if err != nil {
			return err
		}
		restored.Close()
		fmt.Printf("Restored version %d.\n", index)
		return nil
	}

	defer st.Close()
	versions, err := st.Versions()
	if err != nil {
		return err
	}
	if len(versions) == 0 {
		fmt.Println("No versions yet.")
		return nil
	}
	for _, v := range versions {
		fmt.Printf("%4d  %s\n", v.Index, filepath.Base(v.File))
	}
	return nil
}

// snapshotCommand saves or restores a named snapshot:
// snapshot save <label> | snapshot restore <label>.
func snapshotCommand(args []string) error {
	fs := flag.NewFlagSet("snapshot", flag.ExitOnError)
	configPath := fs.String("config", "", "Path to config file")
	if err := fs.Parse(args); err != nil {
		return err
	}

	rest := fs.Args()
	if len(rest) != 2 {
		return fmt.Errorf("usage: %s snapshot <save|restore> <label>", appName)
	}
	action, label := rest[0], rest[1]

	st, err := openInspectionStore(*configPath)
	if err != nil {
		return err
	}
	defer logger.CloseGlobal()

	switch action {
	case "save":
		defer st.Close()
		if err := st.Snapshot(label); err != nil {
			return err
		}
		fmt.Printf("Saved snapshot %q.\n", label)
		return nil
	case "restore":
		// Restore closes the original store and hands back a fresh one.
		restored, err := st.Restore(label)
		if err != nil {
			return err
		}
		restored.Close()
		fmt.Printf("Restored snapshot %q.\n", label)
		return nil
	default:
		st.Close()
		return fmt.Errorf("unknown snapshot action %q (want save or restore)", action)
	}
}
