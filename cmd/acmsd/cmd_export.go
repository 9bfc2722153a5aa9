package main

import (
	"encoding/hex"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"acms/internal/crypto"
)

var (
	exportTopicID   string
	exportKeypairOut string
	exportBundleOut  string
)

var exportCmd = &cobra.Command{
	Use:   "export",
	Short: "Seal and export a user's memory to a downloadable bundle (export_memory)",
	RunE:  runExport,
}

var (
	importBundleIn  string
	importPubKeyHex string
	importPrivKeyHex string
)

var importCmd = &cobra.Command{
	Use:   "import",
	Short: "Open and re-ingest a previously exported bundle (import_bundle)",
	RunE:  runImport,
}

var eraseTopicID string

var eraseCmd = &cobra.Command{
	Use:   "erase",
	Short: "Irreversibly erase a user's memory (delete_all_memory)",
	RunE:  runErase,
}

func init() {
	exportCmd.Flags().StringVar(&exportTopicID, "topic", "", "Restrict export to one topic (optional; empty exports every topic)")
	exportCmd.Flags().StringVar(&exportKeypairOut, "keypair-out", "", "Write the freshly generated recipient keypair (hex, one key per line: public\\nprivate) here (required)")
	exportCmd.Flags().StringVar(&exportBundleOut, "bundle-out", "", "Write the downloaded sealed bundle here (required)")
	exportCmd.MarkFlagRequired("keypair-out")
	exportCmd.MarkFlagRequired("bundle-out")

	importCmd.Flags().StringVar(&importBundleIn, "bundle-in", "", "Path to a sealed bundle previously written by export (required)")
	importCmd.Flags().StringVar(&importPubKeyHex, "pubkey", "", "Hex-encoded recipient public key the bundle was sealed to (required)")
	importCmd.Flags().StringVar(&importPrivKeyHex, "privkey", "", "Hex-encoded recipient private key (required)")
	importCmd.MarkFlagRequired("bundle-in")
	importCmd.MarkFlagRequired("pubkey")
	importCmd.MarkFlagRequired("privkey")

	eraseCmd.Flags().StringVar(&eraseTopicID, "topic", "", "Restrict erasure to one topic (optional; empty erases every topic)")
}

func runExport(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	pub, priv, err := crypto.GenerateExportKeypair()
	if err != nil {
		return fmt.Errorf("generate export keypair: %w", err)
	}
	data := []byte(hex.EncodeToString(pub[:]) + "\n" + hex.EncodeToString(priv[:]) + "\n")
	if err := os.WriteFile(exportKeypairOut, data, 0o600); err != nil {
		return fmt.Errorf("write keypair: %w", err)
	}

	handle, err := a.exportCore.ExportMemory(ctx, userID, exportTopicID, pub)
	if err != nil {
		return err
	}
	bundle, err := a.exportCore.DownloadExport(handle)
	if err != nil {
		return err
	}
	if err := os.WriteFile(exportBundleOut, bundle, 0o600); err != nil {
		return fmt.Errorf("write bundle: %w", err)
	}
	fmt.Printf("handle=%s bundle_bytes=%d written_to=%s keypair_written_to=%s\n", handle, len(bundle), exportBundleOut, exportKeypairOut)
	return nil
}

func runImport(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	bundle, err := os.ReadFile(importBundleIn)
	if err != nil {
		return fmt.Errorf("read bundle: %w", err)
	}
	pub, err := decodeKey32(importPubKeyHex)
	if err != nil {
		return fmt.Errorf("decode pubkey: %w", err)
	}
	priv, err := decodeKey32(importPrivKeyHex)
	if err != nil {
		return fmt.Errorf("decode privkey: %w", err)
	}

	imported, err := a.exportCore.ImportBundle(ctx, bundle, pub, priv, userID, a.store.Insert)
	if err != nil {
		return err
	}
	fmt.Printf("items_imported=%d\n", imported)
	return nil
}

func runErase(cmd *cobra.Command, args []string) error {
	if err := requireUser(); err != nil {
		return err
	}
	a, err := buildApp(userID)
	if err != nil {
		return err
	}
	defer a.Close()

	ctx, cancel := withTimeout(cmd)
	defer cancel()

	res, err := a.exportCore.DeleteAllMemory(ctx, userID, eraseTopicID)
	if err != nil {
		return err
	}
	fmt.Printf("items_erased=%d topics_purged=%v\n", res.ItemsErased, res.TopicsPurged)
	return nil
}

func decodeKey32(hexStr string) (*[32]byte, error) {
	raw, err := hex.DecodeString(hexStr)
	if err != nil {
		return nil, err
	}
	if len(raw) != 32 {
		return nil, fmt.Errorf("expected 32 bytes, got %d", len(raw))
	}
	var out [32]byte
	copy(out[:], raw)
	return &out, nil
}
