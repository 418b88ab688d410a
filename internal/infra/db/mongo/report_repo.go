package mongo

import (
	"context"
	"errors"
	"time"

	"go.mongodb.org/mongo-driver/bson"
	"go.mongodb.org/mongo-driver/bson/primitive"
	"go.mongodb.org/mongo-driver/mongo"
	"go.mongodb.org/mongo-driver/mongo/options"
	"go.mongodb.org/mongo-driver/mongo/readpref"

	domain "github.com/medisight/gatekeeper/internal/domain/reports"
)

const collectionName = "reports"

// idFilter matches a report by id. Reports saved by the old backend have
// ObjectID keys, which decode to hex strings but must be queried as ObjectIDs.
func idFilter(id domain.ReportID) bson.M {
	if domain.IsLegacyID(string(id)) {
		if oid, err := primitive.ObjectIDFromHex(string(id)); err == nil {
			return bson.M{"_id": bson.M{"$in": bson.A{oid, string(id)}}}
		}
	}
	return bson.M{"_id": string(id)}
}

// reportDocument is the stored shape; field names follow the JSON API.
type reportDocument struct {
	ID          string    `bson:"_id"`
	Diagnosis   string    `bson:"diagnosis"`
	Confidence  float64   `bson:"confidence"`
	ImagePath   string    `bson:"imagePath"`
	Heatmap     string    `bson:"heatmap,omitempty"`
	Status      string    `bson:"status"`
	DoctorNotes string    `bson:"doctorNotes"`
	CreatedAt   time.Time `bson:"createdAt"`
}

func toDocument(r *domain.Report) reportDocument {
	return reportDocument{
		ID:          string(r.ID),
		Diagnosis:   r.Diagnosis,
		Confidence:  float64(r.Confidence),
		ImagePath:   r.ImagePath,
		Heatmap:     r.Heatmap,
		Status:      string(r.Status),
		DoctorNotes: r.DoctorNotes,
		CreatedAt:   r.CreatedAt,
	}
}

func (d reportDocument) toDomain() *domain.Report {
	return &domain.Report{
		ID:          domain.ReportID(d.ID),
		Diagnosis:   d.Diagnosis,
		Confidence:  domain.Confidence(d.Confidence),
		ImagePath:   d.ImagePath,
		Heatmap:     d.Heatmap,
		Status:      domain.Status(d.Status),
		DoctorNotes: d.DoctorNotes,
		CreatedAt:   d.CreatedAt.UTC(),
	}
}

// newestFirst is the history order; _id breaks ties in insertion order.
var newestFirst = bson.D{{Key: "createdAt", Value: -1}, {Key: "_id", Value: -1}}

type ReportRepository struct {
	coll *mongo.Collection
}

func NewReportRepository(db *mongo.Database) *ReportRepository {
	return &ReportRepository{coll: db.Collection(collectionName)}
}

// EnsureSchema creates the history index.
func (r *ReportRepository) EnsureSchema(ctx context.Context) error {
	_, err := r.coll.Indexes().CreateOne(ctx, mongo.IndexModel{
		Keys:    newestFirst,
		Options: options.Index().SetName("idx_reports_created"),
	})
	return err
}

func (r *ReportRepository) Create(ctx context.Context, rep *domain.Report) error {
	doc := toDocument(rep)
	if doc.CreatedAt.IsZero() {
		doc.CreatedAt = time.Now().UTC()
	}
	_, err := r.coll.InsertOne(ctx, doc)
	return err
}

func (r *ReportRepository) Get(ctx context.Context, id domain.ReportID) (*domain.Report, error) {
	var doc reportDocument
	err := r.coll.FindOne(ctx, idFilter(id)).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ReportRepository) UpdateReview(ctx context.Context, id domain.ReportID, status domain.Status, notes string) (*domain.Report, error) {
	update := bson.M{"$set": bson.M{"status": string(status), "doctorNotes": notes}}
	opts := options.FindOneAndUpdate().SetReturnDocument(options.After)

	var doc reportDocument
	err := r.coll.FindOneAndUpdate(ctx, idFilter(id), update, opts).Decode(&doc)
	if errors.Is(err, mongo.ErrNoDocuments) {
		return nil, domain.ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	return doc.toDomain(), nil
}

func (r *ReportRepository) Latest(ctx context.Context, limit int) ([]*domain.Report, error) {
	if limit <= 0 {
		limit = domain.HistorySize
	}
	cur, err := r.coll.Find(ctx, bson.D{}, options.Find().SetSort(newestFirst).SetLimit(int64(limit)))
	if err != nil {
		return nil, err
	}
	var docs []reportDocument
	if err := cur.All(ctx, &docs); err != nil {
		return nil, err
	}
	out := make([]*domain.Report, 0, len(docs))
	for _, d := range docs {
		out = append(out, d.toDomain())
	}
	return out, nil
}

func (r *ReportRepository) Ping(ctx context.Context) error {
	return r.coll.Database().Client().Ping(ctx, readpref.Primary())
}
