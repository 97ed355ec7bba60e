// Package minio stores checkpoint blobs in MinIO or any S3-compatible
// service (Ceph, Garage, SeaweedFS) through the MinIO client.
//
//	client, err := minio.New("localhost:9000", &minio.Options{
//	    Creds:  credentials.NewStaticV4("minioadmin", "minioadmin", ""),
//	    Secure: false,
//	})
//	if err != nil {
//	    log.Fatal(err)
//	}
//
//	store := minioblob.NewStore(client, "models", "tree/")
//	manifest, err := checkpoint.Save(ctx, store, mem)
package minio
