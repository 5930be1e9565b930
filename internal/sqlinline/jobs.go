package sqlinline

// JobColumns is the column list every job read scans, in scan order.
const JobColumns = `id::text, job_id, user_id, user_email, product_name, product_description,
    target_audience, ugc_style, platform, duration, aspect_ratio, scene_count, product_image_url,
    status, progress_percentage, current_step, product_analysis, character_model, video_segments,
    character_image_url, start_frame_url, end_frame_url,
    frame_url_1, frame_url_2, frame_url_3, frame_url_4, frame_url_5, frame_url_6, frame_url_7, frame_url_8,
    video_url_1, video_url_2, video_url_3, video_url_4, video_url_5, video_url_6, video_url_7, video_url_8,
    audio_url, video_url, thumbnail_url, error_message, credits_cost, credits_refunded,
    created_at, started_at, completed_at, updated_at`

const QInsertJob = `--sql 6a0d4b9e-2c71-4f3a-8e15-b7c94d2a1f60
insert into video_jobs (
    job_id, user_id, user_email, product_name, product_description, target_audience,
    ugc_style, platform, duration, aspect_ratio, scene_count, product_image_url,
    audio_url, status, progress_percentage, current_step, credits_cost
)
values ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13, $14, $15, $16, $17)
on conflict (job_id) do nothing
returning id::text, created_at, updated_at;
`

const QSelectJob = `--sql d81f3e27-9b0c-4c6a-a4f2-30e5c1b78d94
select ` + JobColumns + `
from video_jobs
where job_id = $1;
`

// QUpdateJobTemplate is completed with the SET list and the column list.
// $1 is the job id, $2 the allowed source statuses (null for unguarded writes).
const QUpdateJobTemplate = `--sql 0f4c8a61-7d2e-4b93-95a0-c26e1d8b3f47
update video_jobs
set %s
where job_id = $1
  and ($2::text[] is null or status = any($2::text[]))
returning %s;
`

const QDeleteJob = `--sql 5b9e2d70-1a4c-4e8f-b3d6-87f0a2c4e915
delete from video_jobs
where job_id = $1
  and user_id = $2;
`

const QListJobs = `--sql c4a7e19b-3f58-4d02-9e6b-1d0b5f8a2c73
select ` + JobColumns + `
from video_jobs
where user_id = $1
  and ($2::text[] is null or status = any($2::text[]))
order by created_at desc
limit $3;
`

// QClaimStaleJobs touches and returns jobs resting in a trigger state whose
// last write is older than the cutoff, so concurrent reconcilers never share one.
const QClaimStaleJobs = `--sql 8e3b6f02-c95d-4a17-b0e4-4f7a9d1c6e28
with stale as (
    select id
    from video_jobs
    where status = any($1::text[])
      and updated_at < $2::timestamptz
    order by updated_at asc
    for update skip locked
    limit $3
)
update video_jobs v
set updated_at = now()
from stale
where v.id = stale.id
returning v.job_id, v.status;
`

// QClaimUnrefundedJobs touches and returns failed jobs that were charged but
// whose refund was never recorded.
const QClaimUnrefundedJobs = `--sql 1d6a9c3f-84e2-4b70-a5c8-3f27e0b91d46
with owed as (
    select id
    from video_jobs
    where status = 'failed'
      and credits_cost > 0
      and credits_refunded = 0
      and updated_at < $1::timestamptz
    order by updated_at asc
    for update skip locked
    limit $2
)
update video_jobs v
set updated_at = now()
from owed
where v.id = owed.id
returning v.job_id, v.status;
`
