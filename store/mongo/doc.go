// Package mongo implements the herald stores on MongoDB. The atomic
// digest primitives map onto single-document conditional updates: a
// partial unique index keeps at most one delayed owner per window
// tuple, and merges are findOneAndUpdate pushes guarded by the delayed
// status.
//
// The caller owns the *mongo.Client lifecycle; the store never closes
// it. Pass the client through the constructor:
//
//	client, _ := mongod.Connect(options.Client().ApplyURI(uri))
//	store := mongo.New(client.Database("herald"))
//	store.Migrate(ctx)
package mongo
