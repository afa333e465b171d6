package backup

import "github.com/cropscan/cropscan/internal/errors"

func backupError(err error, op string) error {
	return errors.New(err).
		Component("backup").
		Category(errors.CategoryBackup).
		Context("operation", op).
		Build()
}

func configError(msg string) error {
	return errors.Newf("%s", msg).
		Component("backup").
		Category(errors.CategoryConfiguration).
		Build()
}
