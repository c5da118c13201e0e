package ml

import (
	"context"
	"math"
	"sort"

	"github.com/sourcegraph/conc/iter"

	"github.com/avelt/photovault/internal/client/models"
	"github.com/avelt/photovault/internal/client/repositories/mlindex"
	"github.com/avelt/photovault/internal/dbx"
)

// Cluster rebuilds the People and Things indexes from the per-file records.
// Both indexes carry the files-index version they were built from; a rebuild
// only runs when the files index moved past it, so clustering the same data
// twice is a no-op.
func (o *Orchestrator) Cluster(ctx context.Context) error {
	repo := mlindex.NewSQLiteRepository(o.db)
	filesVer, err := repo.IndexVersion(ctx, mlindex.NamespaceFiles)
	if err != nil {
		return err
	}

	if err := o.clusterPeople(ctx, filesVer); err != nil {
		return err
	}
	return o.clusterThings(ctx, filesVer)
}

func (o *Orchestrator) clusterPeople(ctx context.Context, filesVer int64) error {
	repo := mlindex.NewSQLiteRepository(o.db)
	peopleVer, err := repo.IndexVersion(ctx, mlindex.NamespacePeople)
	if err != nil {
		return err
	}
	if filesVer <= peopleVer {
		return nil
	}

	all, err := repo.FacesWithEmbeddings(ctx)
	if err != nil {
		return err
	}
	faces := make([]mlindex.FaceWithFile, 0, len(all))
	for _, f := range all {
		if !f.Hidden {
			faces = append(faces, f)
		}
	}
	if len(faces) < o.cfg.MinFaceCount {
		// too little signal; leave the people version behind so the next
		// pass retries once more faces arrived
		o.log.Debug(ctx, "skipping face clustering", "faces", len(faces), "min", o.cfg.MinFaceCount)
		return nil
	}

	people := clusterFaces(faces, o.cfg.FaceSimilarityThreshold)
	o.log.Info(ctx, "face clustering done", "faces", len(faces), "people", len(people))

	return dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := mlindex.NewSQLiteRepository(tx)
		if err := txRepo.ReplacePeople(ctx, people); err != nil {
			return err
		}
		return txRepo.SetIndexVersion(ctx, mlindex.NamespacePeople, filesVer)
	})
}

func (o *Orchestrator) clusterThings(ctx context.Context, filesVer int64) error {
	repo := mlindex.NewSQLiteRepository(o.db)
	thingsVer, err := repo.IndexVersion(ctx, mlindex.NamespaceThings)
	if err != nil {
		return err
	}
	if filesVer <= thingsVer {
		return nil
	}

	inputs, err := repo.ThingInputs(ctx)
	if err != nil {
		return err
	}
	things := groupThings(inputs)
	o.log.Info(ctx, "thing grouping done", "detections", len(inputs), "things", len(things))

	return dbx.WithTx(ctx, o.db, nil, func(ctx context.Context, tx dbx.DBTX) error {
		txRepo := mlindex.NewSQLiteRepository(tx)
		if err := txRepo.ReplaceThings(ctx, things); err != nil {
			return err
		}
		return txRepo.SetIndexVersion(ctx, mlindex.NamespaceThings, filesVer)
	})
}

type faceCluster struct {
	faces    []mlindex.FaceWithFile
	centroid []float32
}

// clusterFaces assigns each face greedily to the most similar existing
// cluster centroid, starting a new cluster below the threshold. Embeddings
// are normalized up front so similarity is a plain dot product.
func clusterFaces(faces []mlindex.FaceWithFile, threshold float64) []models.Person {
	normalized := iter.Map(faces, func(f *mlindex.FaceWithFile) []float32 {
		return normalize(f.Face.Embedding)
	})

	var clusters []*faceCluster
	for i, f := range faces {
		emb := normalized[i]
		best := -1
		bestSim := threshold
		for ci, c := range clusters {
			if sim := dot(c.centroid, emb); sim >= bestSim {
				best, bestSim = ci, sim
			}
		}
		if best < 0 {
			clusters = append(clusters, &faceCluster{
				faces:    []mlindex.FaceWithFile{f},
				centroid: emb,
			})
			continue
		}
		c := clusters[best]
		c.faces = append(c.faces, f)
		c.centroid = normalize(meanOf(c.centroid, emb, len(c.faces)))
	}

	people := make([]models.Person, 0, len(clusters))
	for i, c := range clusters {
		people = append(people, models.Person{
			ID:            i + 1,
			FileIDs:       clusterFileIDs(c.faces),
			DisplayFaceID: displayFace(c.faces),
		})
	}
	return people
}

// meanOf folds one more normalized embedding into a running centroid.
func meanOf(centroid, emb []float32, n int) []float32 {
	out := make([]float32, len(centroid))
	w := float32(n - 1)
	for i := range centroid {
		out[i] = (centroid[i]*w + emb[i]) / float32(n)
	}
	return out
}

func normalize(v []float32) []float32 {
	var sum float64
	for _, x := range v {
		sum += float64(x) * float64(x)
	}
	norm := math.Sqrt(sum)
	if norm == 0 {
		return v
	}
	out := make([]float32, len(v))
	for i, x := range v {
		out[i] = float32(float64(x) / norm)
	}
	return out
}

func dot(a, b []float32) float64 {
	if len(a) != len(b) {
		return -1
	}
	var sum float64
	for i := range a {
		sum += float64(a[i]) * float64(b[i])
	}
	return sum
}

func clusterFileIDs(faces []mlindex.FaceWithFile) []int64 {
	seen := make(map[int64]struct{}, len(faces))
	ids := make([]int64, 0, len(faces))
	for _, f := range faces {
		if _, ok := seen[f.Face.FileID]; ok {
			continue
		}
		seen[f.Face.FileID] = struct{}{}
		ids = append(ids, f.Face.FileID)
	}
	sort.Slice(ids, func(i, j int) bool { return ids[i] < ids[j] })
	return ids
}

// displayFace picks the highest-confidence detection as the cluster's cover.
func displayFace(faces []mlindex.FaceWithFile) string {
	best := 0
	for i := 1; i < len(faces); i++ {
		if faces[i].Face.Detection.Score > faces[best].Face.Detection.Score {
			best = i
		}
	}
	return faces[best].Face.ID
}

// groupThings buckets detections by class name, one Thing per class.
func groupThings(inputs []mlindex.ThingInput) []models.Thing {
	byClass := make(map[string]map[int64]struct{})
	for _, in := range inputs {
		if byClass[in.ClassName] == nil {
			byClass[in.ClassName] = make(map[int64]struct{})
		}
		byClass[in.ClassName][in.FileID] = struct{}{}
	}

	names := make([]string, 0, len(byClass))
	for name := range byClass {
		names = append(names, name)
	}
	sort.Strings(names)

	things := make([]models.Thing, 0, len(names))
	for i, name := range names {
		ids := make([]int64, 0, len(byClass[name]))
		for id := range byClass[name] {
			ids = append(ids, id)
		}
		sort.Slice(ids, func(a, b int) bool { return ids[a] < ids[b] })
		things = append(things, models.Thing{ID: i + 1, Name: name, FileIDs: ids})
	}
	return things
}
