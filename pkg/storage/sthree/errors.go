// Copyright © 2018 One Concern

package sthree

import (
	"net/http"

	awshttp "github.com/aws/aws-sdk-go-v2/aws/transport/http"
	"github.com/aws/smithy-go"
	"github.com/oneconcern/refdb/pkg/errors"
	"github.com/oneconcern/refdb/pkg/storage/status"
)

func filterErrNotExists(err error) error {
	if errors.Is(err, status.ErrNotExists) {
		return nil
	}
	return err
}

func isNotFound(err error) bool {
	var rerr *awshttp.ResponseError
	return errors.As(err, &rerr) && rerr.HTTPStatusCode() == http.StatusNotFound
}

func apiErrors(err *awshttp.ResponseError) error {
	// handle S3 API errors
	// see: https://docs.aws.amazon.com/AmazonS3/latest/API/ErrorResponses.html#ErrorCodeList
	switch err.HTTPStatusCode() {
	case http.StatusBadRequest:
		var apiErr smithy.APIError
		if errors.As(err, &apiErr) && apiErr.ErrorCode() == "InvalidBucketName" {
			return status.ErrInvalidResource.Wrap(err)
		}
		return status.ErrStorageAPI.Wrap(err)
	case http.StatusNotFound:
		return status.ErrNotExists.Wrap(err)
	case http.StatusPreconditionFailed:
		// conditional put lost a race with another writer
		return status.ErrExists.Wrap(err)
	default:
		return status.ErrStorageAPI.Wrap(err)
	}
}

func toSentinelErrors(err error) error {
	// return sentinel errors defined by the status package
	if err == nil {
		return nil
	}
	var rerr *awshttp.ResponseError
	if errors.As(err, &rerr) {
		return apiErrors(rerr)
	}
	return status.ErrStorageAPI.Wrap(err)
}
