// Copyright 2024 The fakedocker Authors.
// SPDX-License-Identifier: Apache-2.0

package cmd

import (
	"fmt"
	"strings"
	"time"

	"github.com/cppforlife/go-cli-ui/ui"
	uitable "github.com/cppforlife/go-cli-ui/ui/table"
	ctlstore "github.com/cromwell-helper/fakedocker/pkg/fakedocker/store"
	"github.com/docker/go-units"
	"github.com/spf13/cobra"
)

// CromwellImagesFormat is the only format accepted by images. Cromwell
// uses it to look up digests of tagged images.
const CromwellImagesFormat = `{{printf "%s\t%s\t%s" .Repository .Tag .Digest}}`

type ImagesOptions struct {
	ui   ui.UI
	deps *Deps

	Repository string
	Digests    bool
	Format     string

	nowFunc func() time.Time
}

func NewImagesOptions(ui ui.UI, deps *Deps) *ImagesOptions {
	return &ImagesOptions{ui: ui, deps: deps, nowFunc: time.Now}
}

func NewImagesCmd(o *ImagesOptions) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "images [REPOSITORY]",
		Short: "List images in the image store",
		Args:  cobra.MaximumNArgs(1),
		RunE: func(_ *cobra.Command, args []string) error {
			if len(args) > 0 {
				o.Repository = args[0]
			}
			return o.Run()
		},
	}
	cmd.Flags().BoolVar(&o.Digests, "digests", false, "Show digests")
	cmd.Flags().StringVar(&o.Format, "format", "", "Output format (only Cromwell's digest lookup format is supported)")
	return cmd
}

func (o *ImagesOptions) Run() error {
	cromwellMode := o.Digests && o.Format == CromwellImagesFormat
	if !cromwellMode && (o.Digests || len(o.Format) > 0) {
		return fmt.Errorf("Unsupported option: --digests=%t --format=%q", o.Digests, o.Format)
	}

	conf, err := o.deps.Config()
	if err != nil {
		return err
	}

	store, err := o.deps.Store(conf)
	if err != nil {
		return err
	}

	listing, err := store.List()
	if err != nil {
		return err
	}

	if len(o.Repository) > 0 {
		listing, err = listing.Filter(o.Repository)
		if err != nil {
			return err
		}
	}

	for _, warning := range listing.Warnings {
		o.ui.ErrorLinef("Warning: %s", warning)
	}

	if cromwellMode {
		o.printDigests(listing)
		return nil
	}

	return o.printTable(store, listing)
}

func (o *ImagesOptions) printDigests(listing ctlstore.Listing) {
	var lines []string

	for _, img := range listing.Sorted() {
		for _, tag := range img.Tags {
			lines = append(lines, fmt.Sprintf("%s\t%s\t%s", img.Digest.DisplayName, tag.Reference, img.Digest.Reference))
		}
		// Cromwell does not handle name@sha256:... so digests are also offered as tags
		lines = append(lines, fmt.Sprintf("%s\t%s\t%s", img.Digest.DisplayName, img.Digest.Reference, img.Digest.Reference))
	}

	if len(lines) > 0 {
		o.ui.PrintBlock([]byte(strings.Join(lines, "\n") + "\n"))
	}
}

func (o *ImagesOptions) printTable(store *ctlstore.Store, listing ctlstore.Listing) error {
	table := uitable.Table{
		Content: "images",

		Header: []uitable.Header{
			uitable.NewHeader("Repository"),
			uitable.NewHeader("Tag"),
			uitable.NewHeader("Digest"),
			uitable.NewHeader("Created"),
			uitable.NewHeader("Size"),
			uitable.NewHeader("Warn"),
		},
	}

	for _, img := range listing.Sorted() {
		details, err := store.Describe(img.Digest)
		if err != nil {
			return err
		}

		created := units.HumanDuration(o.nowFunc().Sub(details.ModTime)) + " ago"
		size := units.HumanSize(float64(details.Size))
		warn := ""
		if details.Imported {
			warn = "YES"
		}

		tags := []string{}
		for _, tag := range img.Tags {
			tags = append(tags, tag.Reference)
		}
		if len(tags) == 0 {
			tags = append(tags, "<none>")
		}

		for _, tag := range tags {
			table.Rows = append(table.Rows, []uitable.Value{
				uitable.NewValueString(img.Digest.DisplayName),
				uitable.NewValueString(tag),
				uitable.NewValueString(img.Digest.Reference),
				uitable.NewValueString(created),
				uitable.NewValueString(size),
				uitable.NewValueString(warn),
			})
		}
	}

	o.ui.PrintTable(table)

	return nil
}
