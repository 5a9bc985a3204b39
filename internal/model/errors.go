package model

import (
	"errors"
	"fmt"
)

// ErrBucketNotFound is matched by BucketNotFoundError through errors.Is.
var ErrBucketNotFound = errors.New("bucket not found")

// BucketNotFoundError is returned by every object store gateway when the
// target bucket does not exist.
type BucketNotFoundError struct {
	Bucket string
}

func (e BucketNotFoundError) Error() string {
	return fmt.Sprintf("bucket %q does not exist", e.Bucket)
}

// Is lets errors.Is(err, ErrBucketNotFound) match any bucket.
func (e BucketNotFoundError) Is(target error) bool {
	return target == ErrBucketNotFound
}
