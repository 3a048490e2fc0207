// Copyright © 2018 One Concern

// Package storage provides interface to handle backend storage objects.
//
// Objects written there are immutable blobs, trees and commits, addressed by their content.
//
// This package supports the following backends:
//   - S3 (AWS or any S3-compatible endpoint)
//   - local file system (or any afero file system)
package storage
