package storage

import _ "embed"

// Schema is the DDL for the stimuli, experiments and monitors tables.
//
//go:embed schema.sql
var Schema string
